package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(PerMinute(2), discardLogger())
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/questions", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_RetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(PerMinute(1), discardLogger())
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), "rate_limited")
			return
		}
	}
	t.Fatal("second request was not limited")
}

func TestRateLimiter_KeysByPrincipal(t *testing.T) {
	rl := NewRateLimiter(PerMinute(1), discardLogger())
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	for _, uid := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req = req.WithContext(auth.WithPrincipal(req.Context(), &model.Principal{ID: uid}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code, "user %s shares the IP but not the budget", uid)
	}
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(PerMinute(5), discardLogger())
	defer rl.Stop()

	rl.limiter("ip:1.2.3.4")
	require.Equal(t, 1, rl.Len())

	rl.cleanup(time.Now().Add(time.Hour))
	assert.Equal(t, 0, rl.Len())
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)

	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/api/questions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/questions/"+id, nil))
	}

	n, err := testutil.GatherAndCount(reg, "qanda_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both requests should land in one series")
}

func TestLogger_PassesThroughStatus(t *testing.T) {
	h := Logger(discardLogger())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}
