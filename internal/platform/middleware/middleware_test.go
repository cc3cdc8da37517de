package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/platform/metrics"
	"kycvault/pkg/requestcontext"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	t.Run("minted when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("caller value reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "abc-123", seen)
	})
}

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": " 10.0.0.9 "}, "1.1.1.1:80", "10.0.0.9"},
		{"remote addr", nil, "192.168.1.5:4321", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestLatencyUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(Latency(m))
	r.Get("/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/records/abc", nil))

	count, err := testutil.GatherAndCount(reg, "kyc_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]string{}
	for _, f := range families {
		if f.GetName() != "kyc_http_request_duration_seconds" {
			continue
		}
		for _, lp := range f.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
	}
	assert.Equal(t, "/records/{id}", labels["route"])
	assert.Equal(t, "404", labels["status"])
}
