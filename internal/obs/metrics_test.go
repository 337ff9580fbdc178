package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"gatekeep.org/internal/auth"
)

func TestCanonicalPathUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/abc", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/{id}", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestRecorderCountsOutcomes(t *testing.T) {
	m := NewMetrics()
	m.Operation("login", nil)
	m.Operation("login", auth.ErrPasswordIncorrect)
	m.TokenIssued(auth.TokenTypeAccess)
	m.OTPIssued(auth.VerificationForgotPassword)
	m.Denied(auth.CodePermissionDenied)
	m.SetBuildInfo("v1.2.3", "abc123")

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("login", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("login", string(auth.CodePasswordIncorrect))))
	require.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("access_token")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.otpsIssued.WithLabelValues("forgot_password")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("PERMISSION_DENIED")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.buildInfo.WithLabelValues("v1.2.3", "abc123")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Operation("x", nil)
	m.Denied(auth.CodeUnauthorized)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
