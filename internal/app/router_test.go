package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kr1s57/feedvalidator/internal/adapter/controller/http/middleware"
	"github.com/kr1s57/feedvalidator/internal/adapter/repository/memory"
	"github.com/kr1s57/feedvalidator/internal/config"
	"github.com/kr1s57/feedvalidator/internal/entity"
)

// =============================================================================
// Helpers
// =============================================================================

func testApp(t *testing.T, secret string) (*App, *memory.Store) {
	t.Helper()

	cfg := &config.Config{
		App:   config.AppConfig{Env: "test"},
		Store: config.StoreConfig{Driver: "memory"},
		Validation: config.ValidationConfig{
			BatchSize: 10,
			Workers:   2,
			Schedule:  "@every 2m",
		},
		Ops: config.OpsConfig{JWTSecret: secret},
	}
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)

	store := memory.NewStore()
	return NewWithStore(context.Background(), cfg, policy, store, nil), store
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func token(t *testing.T, secret, role string) string {
	t.Helper()
	claims := &middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "soc-oncall",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

// =============================================================================
// Public endpoints
// =============================================================================

func TestRouter_HealthAndMetrics(t *testing.T) {
	a, _ := testApp(t, "")
	h := a.Router()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])

	rec = do(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// =============================================================================
// Quota
// =============================================================================

func TestRouter_Quota(t *testing.T) {
	a, _ := testApp(t, "")
	h := a.Router()

	rec := do(t, h, http.MethodGet, "/api/v1/quota", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Validators []entity.RateLimitStatus `json:"validators"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Validators, len(a.Policy.Enabled()))
	for _, s := range list.Validators {
		assert.True(t, s.CanUse, s.Validator)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/quota/virustotal", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status entity.RateLimitStatus
	decode(t, rec, &status)
	assert.Equal(t, "virustotal", status.Validator)
	assert.Equal(t, 500, status.Remaining)

	rec = do(t, h, http.MethodGet, "/api/v1/quota/shodan", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Whitelist
// =============================================================================

func TestRouter_WhitelistImportAndCheck(t *testing.T) {
	a, _ := testApp(t, "")
	h := a.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/whitelist/import/tranco", strings.NewReader("1,google.com\n2,example-cdn.com\n"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/whitelist/check/Example-CDN.com", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var match map[string]interface{}
	decode(t, rec, &match)
	assert.Equal(t, "example-cdn.com", match["domain"])
	assert.Equal(t, true, match["whitelisted"])
	assert.Equal(t, entity.ListTranco, match["source"])

	rec = do(t, h, http.MethodGet, "/api/v1/whitelist/check/not_a_domain", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/whitelist/import/alexa", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/whitelist/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats entity.WhitelistStats
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Total)
}

// =============================================================================
// Validation
// =============================================================================

func TestRouter_RunBatchAndInspect(t *testing.T) {
	a, store := testApp(t, "")
	h := a.Router()

	ip, err := entity.NewIndicator("198.51.100.7", entity.KindIPv4)
	require.NoError(t, err)
	store.AddOccurrence(entity.RawOccurrence{Indicator: ip, Source: "feodo", FirstSeen: time.Now(), LastSeen: time.Now()})

	rec := do(t, h, http.MethodPost, "/api/v1/validation/run", `{"force": true}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary entity.BatchSummary
	decode(t, rec, &summary)
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Validated, "no vendor credentials means no votes")

	rec = do(t, h, http.MethodGet, "/api/v1/indicators/ipv4/198.51.100.7", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Record    entity.WorkingRecord       `json:"record"`
		Validated *entity.ValidatedIndicator `json:"validated"`
	}
	decode(t, rec, &detail)
	assert.Equal(t, 0, detail.Record.ValidatorsUsed)
	assert.Nil(t, detail.Validated)
	assert.False(t, detail.Record.Results["abuseipdb"].IsChecked())

	rec = do(t, h, http.MethodGet, "/api/v1/indicators/ipv4/198.51.100.8", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/indicators/url/x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/validation/run", `{"size": 9000}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/validated?kind=ipv4", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ConsensusPreview(t *testing.T) {
	a, _ := testApp(t, "")
	h := a.Router()

	body := `{"results": [
		{"validator": "abuseipdb", "checked": true, "score": 90, "malicious": true},
		{"validator": "virustotal", "checked": true, "score": 80, "malicious": true},
		{"validator": "otx", "checked": false},
		{"validator": "made-up", "checked": true, "score": 100, "malicious": true}
	]}`

	rec := do(t, h, http.MethodPost, "/api/v1/consensus/preview", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Verdict    entity.ConsensusVerdict `json:"verdict"`
		Promotable bool                    `json:"promotable"`
		Ignored    []string                `json:"ignored"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Verdict.IsMalicious)
	assert.Equal(t, 85, resp.Verdict.FinalConfidence)
	assert.Equal(t, 2, resp.Verdict.AgreementCount)
	assert.Equal(t, 2, resp.Verdict.ValidatorsUsed)
	assert.True(t, resp.Promotable)
	assert.Equal(t, []string{"made-up"}, resp.Ignored)

	whitelisted := strings.Replace(body, `"results"`, `"whitelisted": true, "results"`, 1)
	rec = do(t, h, http.MethodPost, "/api/v1/consensus/preview", whitelisted, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.False(t, resp.Promotable)

	rec = do(t, h, http.MethodPost, "/api/v1/consensus/preview", `{"results": [{"checked": true}]}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/consensus/preview", `{"unknown_field": 1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Authentication
// =============================================================================

func TestRouter_Authentication(t *testing.T) {
	const secret = "router-test-secret"
	a, _ := testApp(t, secret)
	h := a.Router()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/quota", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	viewer := token(t, secret, middleware.RoleViewer)
	rec = do(t, h, http.MethodGet, "/api/v1/quota", "", viewer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/validation/run", "", viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	operator := token(t, secret, middleware.RoleOperator)
	rec = do(t, h, http.MethodPost, "/api/v1/whitelist/reload", "", operator)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// Batch ownership and cache
// =============================================================================

func TestRouter_ManualRunsDisabled(t *testing.T) {
	a, store := testApp(t, "")
	a.Config.Ops.DisableManualRuns = true
	h := a.Router()

	ip, err := entity.NewIndicator("198.51.100.9", entity.KindIPv4)
	require.NoError(t, err)
	store.AddOccurrence(entity.RawOccurrence{Indicator: ip, Source: "feodo", FirstSeen: time.Now(), LastSeen: time.Now()})

	rec := do(t, h, http.MethodPost, "/api/v1/validation/run", `{"force": true}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err = store.GetWorkingRecord(context.Background(), ip)
	assert.ErrorIs(t, err, entity.ErrNotFound, "no batch may run")

	rec = do(t, h, http.MethodPost, "/api/v1/consensus/preview", `{"results": []}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CacheStats(t *testing.T) {
	a, _ := testApp(t, "")
	h := a.Router()

	rec := do(t, h, http.MethodGet, "/api/v1/cache/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	decode(t, rec, &stats)
	assert.Contains(t, stats, "hits")
	assert.Contains(t, stats, "hit_rate")
}
