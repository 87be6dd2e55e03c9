package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "ops-test-secret"

func signToken(t *testing.T, secret, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "soc-oncall",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func protected(secret string, operator bool) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Role", GetRole(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	return JWTAuth(secret)(RequireOperator(operator)(ok))
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		operatorOnly   bool
		expectedStatus int
	}{
		{
			name:           "missing header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed token",
			header:         "Bearer not.a.valid.jwt.token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "expired token",
			header:         "Bearer " + signToken(t, testSecret, RoleOperator, -time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong secret",
			header:         "Bearer " + signToken(t, "other", RoleOperator, time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "viewer on read endpoint",
			header:         "Bearer " + signToken(t, testSecret, RoleViewer, time.Hour),
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "viewer on operator endpoint",
			header:         "Bearer " + signToken(t, testSecret, RoleViewer, time.Hour),
			operatorOnly:   true,
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "operator on operator endpoint",
			header:         "bearer " + signToken(t, testSecret, RoleOperator, time.Hour),
			operatorOnly:   true,
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/validation/run", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			protected(testSecret, tt.operatorOnly).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestJWTAuth_DisabledWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validation/run", nil)
	rec := httptest.NewRecorder()

	protected("", false).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Role"))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
