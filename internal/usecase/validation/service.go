package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kr1s57/feedvalidator/internal/domain/consensus"
	"github.com/kr1s57/feedvalidator/internal/domain/scoring"
	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/metrics"
)

// ErrCandidateFetch marks a batch that could not load its candidates
var ErrCandidateFetch = errors.New("fetch validation candidates")

// ErrBatchInProgress is returned when a batch is already running in this process
var ErrBatchInProgress = errors.New("validation batch already in progress")

// Store is the persistence the orchestrator reads candidates from and writes outcomes to
type Store interface {
	FetchCandidates(ctx context.Context, limit int, validatedBefore *time.Time) ([]entity.Candidate, error)
	GetWorkingRecord(ctx context.Context, ind entity.Indicator) (*entity.WorkingRecord, error)
	SaveWorkingRecord(ctx context.Context, rec *entity.WorkingRecord) error
	GetValidated(ctx context.Context, ind entity.Indicator) (*entity.ValidatedIndicator, error)
	UpsertValidated(ctx context.Context, v entity.ValidatedIndicator) error
	DeleteValidated(ctx context.Context, ind entity.Indicator) (bool, error)
}

// Validator is one vendor adapter. Validate never returns an error; a call that
// could not be made yields an unchecked result.
type Validator interface {
	Name() string
	Supports(kind entity.IndicatorKind) bool
	Validate(ctx context.Context, ind entity.Indicator) entity.VendorResult
}

// WhitelistFilter answers allow-list lookups
type WhitelistFilter interface {
	IsWhitelisted(ind entity.Indicator) entity.WhitelistMatch
}

// Config holds batch sizing and consensus policy
type Config struct {
	BatchSize       int
	FetchMultiplier int
	Workers         int
	BatchBudget     time.Duration
	RecheckCooldown time.Duration
	Thresholds      consensus.Thresholds
	Weights         map[string]float64
	Priority        scoring.PriorityConfig
}

// DefaultConfig returns the reference batch settings
func DefaultConfig() Config {
	return Config{
		BatchSize:       25,
		FetchMultiplier: 3,
		Workers:         5,
		BatchBudget:     4 * time.Minute,
		RecheckCooldown: 6 * time.Hour,
		Thresholds:      consensus.DefaultThresholds(),
		Weights:         map[string]float64{},
		Priority:        scoring.DefaultPriorityConfig(),
	}
}

// BatchOptions tune a single run
type BatchOptions struct {
	// Size overrides Config.BatchSize when positive
	Size int
	// Force ignores the re-check cooldown
	Force bool
}

// Outcome is the result of validating one indicator in a pass
type Outcome struct {
	Indicator entity.Indicator
	Result    string
	Record    *entity.WorkingRecord
	Verdict   entity.ConsensusVerdict
	Demoted   bool
	Err       error
}

// Notifier receives indicator and batch events
type Notifier interface {
	Broadcast(msgType string, payload interface{})
}

// Event types published to the Notifier
const (
	EventPromoted    = "indicator.promoted"
	EventDemoted     = "indicator.demoted"
	EventWhitelisted = "indicator.whitelisted"
	EventBatch       = "batch.completed"
)

// IndicatorEvent is the payload of indicator events
type IndicatorEvent struct {
	Indicator      entity.Indicator `json:"indicator"`
	Confidence     int              `json:"confidence"`
	AgreementCount int              `json:"agreement_count"`
	ValidatorsUsed int              `json:"validators_used"`
	Source         string           `json:"source,omitempty"`
}

// Service is the validation orchestrator
type Service struct {
	store      Store
	whitelist  WhitelistFilter
	validators []Validator
	config     Config
	logger     *slog.Logger
	now        func() time.Time
	notifier   Notifier

	running sync.Mutex
}

// NewService creates a validation orchestrator
func NewService(store Store, whitelist WhitelistFilter, validators []Validator, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Weights == nil {
		cfg.Weights = make(map[string]float64)
	}

	return &Service{
		store:      store,
		whitelist:  whitelist,
		validators: validators,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetNotifier registers a sink for promotion, demotion and batch events
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Thresholds returns the consensus policy in effect
func (s *Service) Thresholds() consensus.Thresholds {
	return s.config.Thresholds
}

// Weights returns a copy of the validator weights in effect
func (s *Service) Weights() map[string]float64 {
	w := make(map[string]float64, len(s.config.Weights))
	for k, v := range s.config.Weights {
		w[k] = v
	}
	return w
}

// RunValidationBatch selects a batch of candidates and validates them with
// bounded parallelism. Per-indicator failures are counted, not returned; only
// a batch that cannot start returns an error. At most one batch runs at a time.
// Cancelling ctx stops dispatch; indicators already dispatched still commit.
func (s *Service) RunValidationBatch(ctx context.Context, opts BatchOptions) (entity.BatchSummary, error) {
	if !s.running.TryLock() {
		return entity.BatchSummary{}, ErrBatchInProgress
	}
	defer s.running.Unlock()

	start := s.now()
	summary := entity.BatchSummary{
		RunID:     uuid.New().String(),
		StartedAt: start,
	}
	logger := s.logger.With("run_id", summary.RunID)

	size := s.config.BatchSize
	if opts.Size > 0 {
		size = opts.Size
	}

	batch, err := s.selectBatch(ctx, size, opts.Force)
	if err != nil {
		summary.DurationMs = time.Since(start).Milliseconds()
		metrics.BatchRuns.WithLabelValues("failed").Inc()
		logger.Error("[VALIDATION] Batch failed", "error", err)
		return summary, err
	}
	summary.Candidates = len(batch)

	var budgetDone <-chan time.Time
	if s.config.BatchBudget > 0 {
		timer := time.NewTimer(s.config.BatchBudget)
		defer timer.Stop()
		budgetDone = timer.C
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, s.config.Workers)
	work := context.WithoutCancel(ctx)

dispatch:
	for _, rc := range batch {
		select {
		case <-ctx.Done():
			break dispatch
		case <-budgetDone:
			summary.BudgetExceeded = true
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(c entity.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			out := s.ValidateIndicator(work, c.Indicator)

			mu.Lock()
			s.tally(&summary, out)
			mu.Unlock()
		}(rc.Candidate)
	}

	wg.Wait()

	if summary.BudgetExceeded {
		logger.Warn("[VALIDATION] Batch budget exceeded, remaining candidates deferred",
			"budget", s.config.BatchBudget,
			"dispatched", summary.Processed+summary.Failed,
			"candidates", summary.Candidates)
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	metrics.BatchRuns.WithLabelValues("completed").Inc()
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	logger.Info("[VALIDATION] Batch completed",
		"candidates", summary.Candidates,
		"processed", summary.Processed,
		"validated", summary.Validated,
		"whitelisted", summary.Whitelisted,
		"demoted", summary.Demoted,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs)

	if s.notifier != nil {
		s.notifier.Broadcast(EventBatch, summary)
	}
	return summary, nil
}

func (s *Service) tally(summary *entity.BatchSummary, out Outcome) {
	metrics.IndicatorsProcessed.WithLabelValues(string(out.Indicator.Kind), out.Result).Inc()

	if out.Err != nil {
		summary.Failed++
		return
	}
	summary.Processed++
	switch out.Result {
	case metrics.OutcomeValidated:
		summary.Validated++
	case metrics.OutcomeWhitelisted:
		summary.Whitelisted++
	}
	if out.Demoted {
		summary.Demoted++
	}
	s.notify(out)
}

func (s *Service) notify(out Outcome) {
	if s.notifier == nil {
		return
	}

	var msgType string
	switch {
	case out.Result == metrics.OutcomeValidated:
		msgType = EventPromoted
	case out.Demoted:
		msgType = EventDemoted
	case out.Result == metrics.OutcomeWhitelisted:
		msgType = EventWhitelisted
	default:
		return
	}

	event := IndicatorEvent{
		Indicator:      out.Indicator,
		Confidence:     out.Verdict.FinalConfidence,
		AgreementCount: out.Verdict.AgreementCount,
		ValidatorsUsed: out.Verdict.ValidatorsUsed,
	}
	if out.Record != nil {
		event.Source = out.Record.WhitelistSource
	}
	s.notifier.Broadcast(msgType, event)
}

// ValidateIndicator runs one indicator through whitelist, vendors, consensus
// and promotion. Panics are recovered into a failed outcome.
func (s *Service) ValidateIndicator(ctx context.Context, ind entity.Indicator) (out Outcome) {
	out.Indicator = ind

	defer func() {
		if r := recover(); r != nil {
			out.Result = metrics.OutcomeFailed
			out.Err = fmt.Errorf("panic validating %s: %v", ind.Value, r)
			s.logger.Error("[VALIDATION] Recovered panic",
				"indicator", ind.Value,
				"kind", ind.Kind,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := s.validate(ctx, ind, &out); err != nil {
		out.Result = metrics.OutcomeFailed
		out.Err = err
		s.logger.Error("[VALIDATION] Indicator failed",
			"indicator", ind.Value,
			"kind", ind.Kind,
			"error", err)
	}
	return out
}

func (s *Service) validate(ctx context.Context, ind entity.Indicator, out *Outcome) error {
	rec, err := s.store.GetWorkingRecord(ctx, ind)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		rec = entity.NewWorkingRecord(ind)
	case err != nil:
		return fmt.Errorf("load working record: %w", err)
	}
	out.Record = rec

	if match := s.whitelist.IsWhitelisted(ind); match.Whitelisted {
		return s.applyWhitelist(ctx, rec, match, out)
	}
	rec.Whitelisted = false
	rec.WhitelistSource = ""

	rec.MergeResults(s.runValidators(ctx, ind))

	results := sortedResults(rec.Results)
	verdict := consensus.Calculate(consensus.Votes(results, s.config.Weights), s.config.Thresholds)
	out.Verdict = verdict

	confidence := verdict.FinalConfidence
	rec.Confidence = &confidence
	rec.IsMalicious = verdict.IsMalicious
	rec.AgreementCount = verdict.AgreementCount
	rec.ValidatorsUsed = verdict.ValidatorsUsed
	rec.Country, rec.ASN = s.enrichment(rec.Results)
	rec.LastValidated = s.now()

	if err := s.store.SaveWorkingRecord(ctx, rec); err != nil {
		return fmt.Errorf("save working record: %w", err)
	}

	if consensus.Promotable(verdict, false, s.config.Thresholds) {
		if err := s.promote(ctx, entity.ValidatedIndicator{
			Indicator:      ind,
			Confidence:     confidence,
			ThreatType:     entity.ThreatTypeMalicious,
			Country:        rec.Country,
			ASN:            rec.ASN,
			AgreementCount: verdict.AgreementCount,
			ValidatorsUsed: verdict.ValidatorsUsed,
			LastValidated:  rec.LastValidated,
		}); err != nil {
			return err
		}
		out.Result = metrics.OutcomeValidated
		s.logger.Info("[VALIDATION] Indicator promoted",
			"indicator", ind.Value,
			"kind", ind.Kind,
			"confidence", confidence,
			"agreement", verdict.AgreementCount,
			"validators_used", verdict.ValidatorsUsed)
		return nil
	}

	out.Result = metrics.OutcomeNotPromoted

	// Thin coverage cannot overturn an earlier promotion
	if verdict.ValidatorsUsed < s.config.Thresholds.MinAgreement {
		return nil
	}
	demoted, err := s.store.DeleteValidated(ctx, ind)
	if err != nil {
		return fmt.Errorf("demote validated indicator: %w", err)
	}
	if demoted {
		out.Demoted = true
		out.Result = metrics.OutcomeDemoted
		s.logger.Info("[VALIDATION] Indicator demoted",
			"indicator", ind.Value,
			"kind", ind.Kind,
			"confidence", confidence,
			"agreement", verdict.AgreementCount,
			"validators_used", verdict.ValidatorsUsed)
	}
	return nil
}

// promote upserts the validated row unless an identical verdict is already served,
// so a re-validation that changes nothing leaves the row untouched
func (s *Service) promote(ctx context.Context, v entity.ValidatedIndicator) error {
	existing, err := s.store.GetValidated(ctx, v.Indicator)
	switch {
	case errors.Is(err, entity.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load validated indicator: %w", err)
	case sameVerdict(*existing, v):
		return nil
	}

	if err := s.store.UpsertValidated(ctx, v); err != nil {
		return fmt.Errorf("upsert validated indicator: %w", err)
	}
	return nil
}

func sameVerdict(a, b entity.ValidatedIndicator) bool {
	return a.Confidence == b.Confidence &&
		a.ThreatType == b.ThreatType &&
		a.Country == b.Country &&
		a.ASN == b.ASN &&
		a.AgreementCount == b.AgreementCount &&
		a.ValidatorsUsed == b.ValidatorsUsed
}

// applyWhitelist forces a clean verdict without consulting any vendor
func (s *Service) applyWhitelist(ctx context.Context, rec *entity.WorkingRecord, match entity.WhitelistMatch, out *Outcome) error {
	zero := 0
	rec.Whitelisted = true
	rec.WhitelistSource = match.Source
	rec.Confidence = &zero
	rec.IsMalicious = false
	rec.AgreementCount = 0
	rec.ValidatorsUsed = 0
	rec.LastValidated = s.now()

	if err := s.store.SaveWorkingRecord(ctx, rec); err != nil {
		return fmt.Errorf("save working record: %w", err)
	}

	demoted, err := s.store.DeleteValidated(ctx, rec.Indicator)
	if err != nil {
		return fmt.Errorf("demote whitelisted indicator: %w", err)
	}

	out.Result = metrics.OutcomeWhitelisted
	out.Demoted = demoted
	s.logger.Debug("[WHITELIST] Indicator whitelisted",
		"indicator", rec.Indicator.Value,
		"source", match.Source,
		"demoted", demoted)
	return nil
}

// runValidators calls every applicable validator concurrently
func (s *Service) runValidators(ctx context.Context, ind entity.Indicator) []entity.VendorResult {
	var applicable []Validator
	for _, v := range s.validators {
		if v.Supports(ind.Kind) {
			applicable = append(applicable, v)
		}
	}

	results := make([]entity.VendorResult, len(applicable))
	var wg sync.WaitGroup
	for i, v := range applicable {
		wg.Add(1)
		go func(i int, v Validator) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = entity.Unchecked(v.Name(), fmt.Sprintf("panic: %v", r))
					s.logger.Error("[VALIDATION] Validator panicked",
						"validator", v.Name(),
						"indicator", ind.Value,
						"panic", r)
				}
			}()
			results[i] = v.Validate(ctx, ind)
		}(i, v)
	}
	wg.Wait()

	return results
}

// enrichment picks the first non-empty country and ASN in validator order
func (s *Service) enrichment(results map[string]entity.VendorResult) (country, asn string) {
	for _, v := range s.validators {
		r, ok := results[v.Name()]
		if !ok || !r.IsChecked() {
			continue
		}
		if country == "" {
			country = r.Country
		}
		if asn == "" {
			asn = r.ASN
		}
	}
	return country, asn
}

func sortedResults(m map[string]entity.VendorResult) []entity.VendorResult {
	out := make([]entity.VendorResult, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Validator < out[j].Validator
	})
	return out
}
