package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/metrics"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour
	monthWindow  = 30 * 24 * time.Hour
)

// ErrUnknownValidator is returned for validators without a policy
var ErrUnknownValidator = errors.New("unknown validator")

// Repository persists the append-only usage log and the daily window anchors
type Repository interface {
	// GetWindow returns entity.ErrNotFound when the validator has no window yet
	GetWindow(ctx context.Context, validator string) (*entity.QuotaWindow, error)
	SaveWindow(ctx context.Context, window *entity.QuotaWindow) error
	UsageSince(ctx context.Context, validator string, since time.Time) (entity.UsageWindow, error)
	RecordUsage(ctx context.Context, validator string, at time.Time) error
}

// Service owns all vendor quota state. Check-and-record is serialized per validator.
type Service struct {
	repo     Repository
	policies map[string]entity.ValidatorPolicy
	names    []string
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a rate limiter for the given validator policies
func NewService(repo Repository, policies []entity.ValidatorPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		repo:     repo,
		policies: make(map[string]entity.ValidatorPolicy, len(policies)),
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex, len(policies)),
	}
	for _, p := range policies {
		s.policies[p.Name] = p
		s.names = append(s.names, p.Name)
	}
	sort.Strings(s.names)

	return s
}

func (s *Service) lockFor(validator string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[validator]
	if !ok {
		l = &sync.Mutex{}
		s.locks[validator] = l
	}
	return l
}

// CheckQuota reports whether validator may be called now without recording usage.
// Store failures deny use.
func (s *Service) CheckQuota(ctx context.Context, validator string) (entity.RateLimitStatus, error) {
	l := s.lockFor(validator)
	l.Lock()
	defer l.Unlock()

	return s.check(ctx, validator, s.now())
}

// RecordUsage appends one call to the usage log
func (s *Service) RecordUsage(ctx context.Context, validator string) error {
	l := s.lockFor(validator)
	l.Lock()
	defer l.Unlock()

	return s.record(ctx, validator, s.now())
}

// TryAcquire checks the quota and, when allowed, records the call under the same lock
func (s *Service) TryAcquire(ctx context.Context, validator string) (entity.RateLimitStatus, error) {
	l := s.lockFor(validator)
	l.Lock()
	defer l.Unlock()

	now := s.now()
	status, err := s.check(ctx, validator, now)
	if err != nil || !status.CanUse {
		return status, err
	}

	if err := s.record(ctx, validator, now); err != nil {
		s.logger.Error("[RATELIMIT] Failed to record usage, denying call",
			"validator", validator,
			"error", err)
		metrics.QuotaDenials.WithLabelValues(validator, entity.ReasonStoreUnavailable).Inc()
		return s.denied(validator, entity.ReasonStoreUnavailable, time.Time{}), err
	}

	if status.Remaining > 0 {
		status.Remaining--
	}
	return status, nil
}

// Status returns the current quota status of every configured validator
func (s *Service) Status(ctx context.Context) []entity.RateLimitStatus {
	statuses := make([]entity.RateLimitStatus, 0, len(s.names))
	for _, name := range s.names {
		status, err := s.CheckQuota(ctx, name)
		if err != nil {
			s.logger.Warn("[RATELIMIT] Status check failed", "validator", name, "error", err)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Policy returns the configured policy of a validator
func (s *Service) Policy(validator string) (entity.ValidatorPolicy, bool) {
	p, ok := s.policies[validator]
	return p, ok
}

func (s *Service) check(ctx context.Context, validator string, now time.Time) (entity.RateLimitStatus, error) {
	policy, ok := s.policies[validator]
	if !ok {
		return s.denied(validator, entity.ReasonUnknownValidator, time.Time{}), fmt.Errorf("%w: %s", ErrUnknownValidator, validator)
	}

	window, err := s.currentWindow(ctx, policy, now)
	if err != nil {
		return s.storeFailure(validator, err)
	}

	if policy.MonthlyLimit > 0 {
		usage, err := s.repo.UsageSince(ctx, validator, now.Add(-monthWindow))
		if err != nil {
			return s.storeFailure(validator, err)
		}
		if usage.Count >= policy.MonthlyLimit {
			return s.deny(validator, entity.ReasonMonthlyLimit, usage.Oldest.Add(monthWindow)), nil
		}
	}

	remaining := entity.Unlimited
	if policy.DailyLimit > 0 {
		usage, err := s.repo.UsageSince(ctx, validator, window.WindowStart)
		if err != nil {
			return s.storeFailure(validator, err)
		}
		if usage.Count >= policy.DailyLimit {
			return s.deny(validator, entity.ReasonDailyLimit, window.ResetAt), nil
		}
		remaining = policy.DailyLimit - usage.Count
	}

	if policy.HourlyLimit > 0 {
		usage, err := s.repo.UsageSince(ctx, validator, now.Add(-hourWindow))
		if err != nil {
			return s.storeFailure(validator, err)
		}
		if usage.Count >= policy.HourlyLimit {
			return s.deny(validator, entity.ReasonHourlyLimit, usage.Oldest.Add(hourWindow)), nil
		}
	}

	if policy.MinuteLimit > 0 {
		usage, err := s.repo.UsageSince(ctx, validator, now.Add(-minuteWindow))
		if err != nil {
			return s.storeFailure(validator, err)
		}
		if usage.Count >= policy.MinuteLimit {
			return s.deny(validator, entity.ReasonMinuteLimit, usage.Oldest.Add(minuteWindow)), nil
		}
	}

	return entity.RateLimitStatus{
		Validator: validator,
		CanUse:    true,
		Remaining: remaining,
		ResetAt:   window.ResetAt,
	}, nil
}

// currentWindow loads the daily anchor, creating or resetting it as needed
func (s *Service) currentWindow(ctx context.Context, policy entity.ValidatorPolicy, now time.Time) (*entity.QuotaWindow, error) {
	window, err := s.repo.GetWindow(ctx, policy.Name)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		window = &entity.QuotaWindow{Validator: policy.Name}
	case err != nil:
		return nil, fmt.Errorf("get window: %w", err)
	case !window.Expired(now):
		return window, nil
	}

	window.WindowStart = now
	window.ResetAt = now.Add(dayWindow)
	window.WindowLimit = policy.DailyLimit
	if err := s.repo.SaveWindow(ctx, window); err != nil {
		return nil, fmt.Errorf("save window: %w", err)
	}

	s.logger.Debug("[RATELIMIT] Quota window started",
		"validator", policy.Name,
		"reset_at", window.ResetAt)

	return window, nil
}

func (s *Service) record(ctx context.Context, validator string, now time.Time) error {
	policy, ok := s.policies[validator]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, validator)
	}
	if _, err := s.currentWindow(ctx, policy, now); err != nil {
		return err
	}
	if err := s.repo.RecordUsage(ctx, validator, now); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *Service) deny(validator, reason string, resetAt time.Time) entity.RateLimitStatus {
	metrics.QuotaDenials.WithLabelValues(validator, reason).Inc()
	s.logger.Debug("[RATELIMIT] Quota denied", "validator", validator, "reason", reason, "reset_at", resetAt)
	return s.denied(validator, reason, resetAt)
}

func (s *Service) denied(validator, reason string, resetAt time.Time) entity.RateLimitStatus {
	return entity.RateLimitStatus{
		Validator: validator,
		CanUse:    false,
		Remaining: 0,
		ResetAt:   resetAt,
		Reason:    reason,
	}
}

func (s *Service) storeFailure(validator string, err error) (entity.RateLimitStatus, error) {
	s.logger.Error("[RATELIMIT] Quota store unavailable, failing closed",
		"validator", validator,
		"error", err)
	metrics.QuotaDenials.WithLabelValues(validator, entity.ReasonStoreUnavailable).Inc()
	return s.denied(validator, entity.ReasonStoreUnavailable, time.Time{}), fmt.Errorf("check quota: %w", err)
}
