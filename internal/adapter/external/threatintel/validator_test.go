package threatintel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kr1s57/feedvalidator/internal/adapter/repository/memory"
	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/usecase/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeClient struct {
	name       string
	configured bool
	verdict    *Verdict
	err        error
	delay      time.Duration
	waitErr    error
	calls      atomic.Int32
}

func (f *fakeClient) Name() string       { return f.name }
func (f *fakeClient) IsConfigured() bool { return f.configured }

func (f *fakeClient) Wait(ctx context.Context) error { return f.waitErr }

func (f *fakeClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type MockQuotaGate struct {
	mock.Mock
}

func (m *MockQuotaGate) TryAcquire(ctx context.Context, validator string) (entity.RateLimitStatus, error) {
	args := m.Called(ctx, validator)
	return args.Get(0).(entity.RateLimitStatus), args.Error(1)
}

func allow(validator string) entity.RateLimitStatus {
	return entity.RateLimitStatus{Validator: validator, CanUse: true, Remaining: 10}
}

func testPolicy(name string) entity.ValidatorPolicy {
	return entity.ValidatorPolicy{
		Name:     name,
		Weight:   3,
		Kinds:    []entity.IndicatorKind{entity.KindIPv4},
		CacheTTL: time.Hour,
		Timeout:  time.Second,
	}
}

func testIP(t *testing.T) entity.Indicator {
	t.Helper()
	ind, err := entity.NewIndicator("203.0.113.7", entity.KindIPv4)
	require.NoError(t, err)
	return ind
}

// =============================================================================
// Adapter
// =============================================================================

func TestAdapter_NotConfiguredIsUnchecked(t *testing.T) {
	client := &fakeClient{name: "abuseipdb"}
	quota := new(MockQuotaGate)
	a := NewAdapter(client, testPolicy("abuseipdb"), quota, nil, nil)

	for i := 0; i < 3; i++ {
		result := a.Validate(context.Background(), testIP(t))
		assert.False(t, result.IsChecked())
		assert.Equal(t, "abuseipdb", result.Validator)
	}

	assert.Equal(t, int32(0), client.calls.Load())
	quota.AssertNotCalled(t, "TryAcquire", mock.Anything, mock.Anything)
}

func TestAdapter_CheckedResultIsCached(t *testing.T) {
	store := memory.NewStore()
	client := &fakeClient{name: "abuseipdb", configured: true, verdict: &Verdict{Score: 88, Malicious: true, Country: "NL"}}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "abuseipdb").Return(allow("abuseipdb"), nil).Once()

	a := NewAdapter(client, testPolicy("abuseipdb"), quota, NewCheckCache(store, nil), nil)

	first := a.Validate(context.Background(), testIP(t))
	require.True(t, first.IsChecked())
	assert.Equal(t, 88, first.Score)
	assert.True(t, first.Malicious)
	assert.Equal(t, "NL", first.Country)
	assert.False(t, first.Cached)

	second := a.Validate(context.Background(), testIP(t))
	require.True(t, second.IsChecked())
	assert.True(t, second.Cached)
	assert.Equal(t, 88, second.Score)

	assert.Equal(t, int32(1), client.calls.Load())
	quota.AssertExpectations(t)

	persisted, err := store.GetVendorCheck(context.Background(), "abuseipdb", testIP(t))
	require.NoError(t, err)
	assert.Equal(t, 88, persisted.Score)
	assert.Equal(t, persisted.CheckedAt.Add(time.Hour), persisted.ExpiresAt)
}

func TestAdapter_PersistentCacheSurvivesRestart(t *testing.T) {
	store := memory.NewStore()
	now := time.Now()
	require.NoError(t, store.SaveVendorCheck(context.Background(), &entity.VendorCheck{
		Vendor:    "abuseipdb",
		Indicator: testIP(t),
		Score:     77,
		Malicious: true,
		CheckedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(time.Hour),
	}))

	client := &fakeClient{name: "abuseipdb", configured: true}
	quota := new(MockQuotaGate)
	a := NewAdapter(client, testPolicy("abuseipdb"), quota, NewCheckCache(store, nil), nil)

	result := a.Validate(context.Background(), testIP(t))
	require.True(t, result.IsChecked())
	assert.True(t, result.Cached)
	assert.Equal(t, 77, result.Score)
	assert.Equal(t, int32(0), client.calls.Load())
	quota.AssertNotCalled(t, "TryAcquire", mock.Anything, mock.Anything)
}

func TestAdapter_QuotaDeniedIsUnchecked(t *testing.T) {
	client := &fakeClient{name: "virustotal", configured: true, verdict: &Verdict{Score: 90, Malicious: true}}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "virustotal").
		Return(entity.RateLimitStatus{Validator: "virustotal", Reason: entity.ReasonMinuteLimit}, nil)

	a := NewAdapter(client, testPolicy("virustotal"), quota, nil, nil)
	result := a.Validate(context.Background(), testIP(t))

	assert.False(t, result.IsChecked())
	assert.Equal(t, entity.ReasonMinuteLimit, result.Reason)
	assert.Equal(t, int32(0), client.calls.Load())
}

func TestAdapter_QuotaStoreErrorIsUnchecked(t *testing.T) {
	client := &fakeClient{name: "virustotal", configured: true, verdict: &Verdict{Score: 90, Malicious: true}}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "virustotal").
		Return(entity.RateLimitStatus{Validator: "virustotal", Reason: entity.ReasonStoreUnavailable}, errors.New("store down"))

	a := NewAdapter(client, testPolicy("virustotal"), quota, nil, nil)
	result := a.Validate(context.Background(), testIP(t))

	assert.False(t, result.IsChecked())
	assert.Equal(t, entity.ReasonStoreUnavailable, result.Reason)
	assert.Equal(t, int32(0), client.calls.Load())
}

func TestAdapter_VendorErrorIsUncheckedAndNotCached(t *testing.T) {
	client := &fakeClient{name: "otx", configured: true, err: errors.New("API error: status 502")}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "otx").Return(allow("otx"), nil)

	cache := NewCheckCache(nil, nil)
	a := NewAdapter(client, testPolicy("otx"), quota, cache, nil)

	result := a.Validate(context.Background(), testIP(t))
	assert.False(t, result.IsChecked())
	assert.Contains(t, result.Reason, "502")

	_, ok := cache.Get(context.Background(), "otx", testIP(t))
	assert.False(t, ok)
}

func TestAdapter_TimeoutIsUnchecked(t *testing.T) {
	client := &fakeClient{name: "urlscan", configured: true, delay: time.Second, verdict: &Verdict{Score: 99, Malicious: true}}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "urlscan").Return(allow("urlscan"), nil)

	policy := testPolicy("urlscan")
	policy.Timeout = 20 * time.Millisecond
	a := NewAdapter(client, policy, quota, nil, nil)

	start := time.Now()
	result := a.Validate(context.Background(), testIP(t))

	assert.False(t, result.IsChecked())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAdapter_ScoreIsClamped(t *testing.T) {
	client := &fakeClient{name: "urlhaus", configured: true, verdict: &Verdict{Score: 140, Malicious: true}}
	quota := new(MockQuotaGate)
	quota.On("TryAcquire", mock.Anything, "urlhaus").Return(allow("urlhaus"), nil)

	a := NewAdapter(client, testPolicy("urlhaus"), quota, nil, nil)
	result := a.Validate(context.Background(), testIP(t))

	require.True(t, result.IsChecked())
	assert.Equal(t, 100, result.Score)
}

func TestAdapter_Supports(t *testing.T) {
	policy := testPolicy("safebrowsing")
	policy.Kinds = []entity.IndicatorKind{entity.KindDomain}
	a := NewAdapter(&fakeClient{name: "safebrowsing"}, policy, new(MockQuotaGate), nil, nil)

	assert.Equal(t, "safebrowsing", a.Name())
	assert.True(t, a.Supports(entity.KindDomain))
	assert.False(t, a.Supports(entity.KindIPv4))
}

// =============================================================================
// Registry
// =============================================================================

func TestBuildAdapters(t *testing.T) {
	clients := map[string]Client{
		"abuseipdb": &fakeClient{name: "abuseipdb", configured: true},
		"otx":       &fakeClient{name: "otx"},
	}
	disabled := false
	policies := []entity.ValidatorPolicy{
		testPolicy("abuseipdb"),
		testPolicy("otx"),
		{Name: "virustotal", Weight: 3, Enabled: &disabled},
		{Name: "censys", Weight: 1},
	}

	adapters := BuildAdapters(clients, policies, new(MockQuotaGate), nil, nil)
	require.Len(t, adapters, 2)
	assert.Equal(t, "abuseipdb", adapters[0].Name())
	assert.Equal(t, "otx", adapters[1].Name())
}

// =============================================================================
// Pacing and quota
// =============================================================================

func TestAdapter_PacingFailureSpendsNoQuota(t *testing.T) {
	client := &fakeClient{name: "virustotal", configured: true, waitErr: errors.New("rate: Wait(n=1) would exceed context deadline")}
	quota := new(MockQuotaGate)

	a := NewAdapter(client, testPolicy("virustotal"), quota, nil, nil)
	result := a.Validate(context.Background(), testIP(t))

	assert.False(t, result.IsChecked())
	assert.Contains(t, result.Reason, "pacing")
	assert.Equal(t, int32(0), client.calls.Load())
	quota.AssertNotCalled(t, "TryAcquire", mock.Anything, mock.Anything)
}

func TestAdapter_ConcurrentCallsRecordOnlyAttemptedUsage(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, map[string]any{"data": map[string]any{"attributes": map[string]any{
			"last_analysis_stats": map[string]int{"malicious": 5, "harmless": 50},
		}}})
	})

	policy := entity.ValidatorPolicy{
		Name:        "virustotal",
		Weight:      3,
		Kinds:       []entity.IndicatorKind{entity.KindIPv4},
		DailyLimit:  500,
		MinuteLimit: 4,
		Timeout:     2 * time.Second,
	}
	store := memory.NewStore()
	quota := ratelimit.NewService(store, []entity.ValidatorPolicy{policy}, nil)
	client := NewVirusTotalClient(VirusTotalConfig{APIKey: "vt-key", BaseURL: srv.URL, RateLimit: 4})
	a := NewAdapter(client, policy, quota, NewCheckCache(nil, nil), nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		unchecked int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ind, err := entity.NewIndicator(fmt.Sprintf("203.0.113.%d", 10+i), entity.KindIPv4)
			require.NoError(t, err)
			if !a.Validate(context.Background(), ind).IsChecked() {
				mu.Lock()
				unchecked++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	usage, err := store.UsageSince(context.Background(), "virustotal", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int(hits.Load()), usage.Count, "recorded usage must match calls that reached the vendor")
	assert.Equal(t, 1, usage.Count)
	assert.Equal(t, 3, unchecked)
}
