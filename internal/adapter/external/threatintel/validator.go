package threatintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/metrics"
)

const defaultCallTimeout = 15 * time.Second

// ErrNotConfigured is returned by clients without credentials
var ErrNotConfigured = errors.New("vendor credentials not configured")

// ErrRateLimited is returned when a vendor answers 429
var ErrRateLimited = errors.New("vendor rate limit exceeded")

// Verdict is a vendor response normalized to a 0-100 score and a malicious vote.
// Vendor-specific thresholds are applied by the client that produces it.
type Verdict struct {
	Score     int
	Malicious bool
	Country   string
	ASN       string
	Raw       json.RawMessage
}

// Client is one vendor's HTTP integration.
// Wait blocks until the client's request pacing admits one call; Check does not pace.
type Client interface {
	Name() string
	IsConfigured() bool
	Wait(ctx context.Context) error
	Check(ctx context.Context, ind entity.Indicator) (*Verdict, error)
}

// QuotaGate checks and records a vendor call atomically
type QuotaGate interface {
	TryAcquire(ctx context.Context, validator string) (entity.RateLimitStatus, error)
}

// Adapter wraps a Client with credentials, cache, quota and timeout handling.
// Validate never fails: anything short of a vendor answer is Unchecked.
type Adapter struct {
	client Client
	policy entity.ValidatorPolicy
	quota  QuotaGate
	cache  *CheckCache
	logger *slog.Logger
	now    func() time.Time

	warnOnce sync.Once
}

// NewAdapter creates an adapter for client governed by policy
func NewAdapter(client Client, policy entity.ValidatorPolicy, quota QuotaGate, cache *CheckCache, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewCheckCache(nil, logger)
	}
	return &Adapter{
		client: client,
		policy: policy,
		quota:  quota,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Name returns the validator name used for quota, weights and results
func (a *Adapter) Name() string {
	return a.policy.Name
}

// Supports reports whether the validator applies to kind
func (a *Adapter) Supports(kind entity.IndicatorKind) bool {
	return a.policy.Supports(kind)
}

// Validate returns the vendor's opinion on ind for this pass
func (a *Adapter) Validate(ctx context.Context, ind entity.Indicator) entity.VendorResult {
	name := a.policy.Name

	if !a.client.IsConfigured() {
		a.warnOnce.Do(func() {
			a.logger.Warn("[TIP] Vendor credentials missing, validator disabled", "validator", name)
		})
		metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusNotConfigured).Inc()
		return entity.Unchecked(name, ErrNotConfigured.Error())
	}

	if cached, ok := a.cache.Get(ctx, name, ind); ok {
		metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusCached).Inc()
		result := entity.Checked(name, cached.Score, cached.Malicious, cached.CheckedAt)
		result.Country = cached.Country
		result.ASN = cached.ASN
		result.Cached = true
		return result
	}

	timeout := a.policy.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	// Pacing precedes quota: usage is recorded only for calls that go out
	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	err := a.client.Wait(waitCtx)
	cancelWait()
	if err != nil {
		a.logger.Debug("[TIP] Vendor pacing window missed",
			"validator", name,
			"indicator", ind.Value,
			"error", err)
		metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusPaced).Inc()
		return entity.Unchecked(name, fmt.Sprintf("pacing: %v", err))
	}

	status, err := a.quota.TryAcquire(ctx, name)
	if err != nil || !status.CanUse {
		metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusQuotaDenied).Inc()
		return entity.Unchecked(name, status.Reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	verdict, err := a.client.Check(callCtx, ind)
	metrics.VendorLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		a.logger.Warn("[TIP] Vendor check failed",
			"validator", name,
			"indicator", ind.Value,
			"kind", ind.Kind,
			"error", err)
		metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusError).Inc()
		return entity.Unchecked(name, err.Error())
	}

	checkedAt := a.now()
	check := &entity.VendorCheck{
		Vendor:    name,
		Indicator: ind,
		Score:     entity.ClampScore(verdict.Score),
		Malicious: verdict.Malicious,
		Country:   verdict.Country,
		ASN:       verdict.ASN,
		Raw:       verdict.Raw,
		CheckedAt: checkedAt,
		ExpiresAt: checkedAt.Add(a.policy.CacheTTL),
	}
	if a.policy.CacheTTL > 0 {
		if err := a.cache.Set(ctx, check); err != nil {
			a.logger.Warn("[TIP] Failed to persist vendor check",
				"validator", name,
				"indicator", ind.Value,
				"error", err)
		}
	}

	metrics.VendorChecks.WithLabelValues(name, metrics.CheckStatusChecked).Inc()
	result := entity.Checked(name, check.Score, check.Malicious, checkedAt)
	result.Country = check.Country
	result.ASN = check.ASN
	return result
}

// ==================== Shared HTTP plumbing ====================

// httpBase holds what every vendor client shares: an HTTP client and request pacing
type httpBase struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newHTTPBase(baseURL string, timeout time.Duration, perMinute int) httpBase {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return httpBase{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Wait reserves one request slot, failing without consuming it when ctx
// expires before the slot opens
func (b httpBase) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// do executes and decodes a JSON request, returning the raw body alongside.
// Callers pace with Wait first.
func (b httpBase) do(req *http.Request, out any) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, entity.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}
