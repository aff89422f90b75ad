package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durationSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	obs, err := httpRequestDurationSeconds.GetMetricWithLabelValues(method, route)
	require.NoError(t, err)
	metric, ok := obs.(prometheus.Metric)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, metric.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMiddlewareLabelsChiRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	beforeRoute := durationSamples(t, http.MethodGet, "/v1/jobs/{job_id}")
	beforeCode := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/0191f1c2-aaaa", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, beforeRoute+1, durationSamples(t, http.MethodGet, "/v1/jobs/{job_id}"))
	assert.Equal(t, beforeCode+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")))
	assert.Zero(t, durationSamples(t, http.MethodGet, "/v1/jobs/0191f1c2-aaaa"))
}

func TestMiddlewareUnroutedRequestIsUnknown(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	before := durationSamples(t, http.MethodDelete, "unknown")
	beforeCode := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "200"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/anything", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, durationSamples(t, http.MethodDelete, "unknown"))
	assert.Equal(t, beforeCode+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "200")))
}
