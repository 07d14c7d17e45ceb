package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewRegistry()

	c1 := reg.Counter("jobs_total", "Jobs processed.", "queue")
	c2 := reg.Counter("jobs_total", "ignored", "queue")
	assert.Same(t, c1, c2)

	h1 := reg.Histogram("job_seconds", "Job latency.", nil, "queue")
	h2 := reg.Histogram("job_seconds", "", []float64{1, 2}, "queue")
	assert.Same(t, h1, h2)

	assert.Panics(t, func() { reg.Counter("jobs_total", "", "queue", "status") })
	assert.Panics(t, func() { reg.Histogram("jobs_total", "", nil, "queue") })
	assert.Panics(t, func() { reg.Counter("job_seconds", "", "queue") })
}

func TestCounterStartsAtZero(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("jobs_total", "Jobs processed.", "queue")

	assert.Zero(t, c.Value("a"))
	assert.Zero(t, c.Total())
	assert.Empty(t, reg.Export(), "reading must not create label tuples")

	reg.Increment(c, "a")
	reg.Increment(c, "a")
	reg.Increment(c, "b")

	assert.Equal(t, 2.0, c.Value("a"))
	assert.Equal(t, 1.0, c.Value("b"))
	assert.Equal(t, 3.0, c.Total())
	assert.Equal(t, 2.0, testutil.ToFloat64(c.vec.WithLabelValues("a")))
}

func TestIncrementWrongLabelCountPanics(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("jobs_total", "Jobs processed.", "queue")
	assert.Panics(t, func() { reg.Increment(c, "a", "extra") })
}

func TestExportFormat(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("jobs_total", "Jobs processed.", "queue")
	h := reg.Histogram("job_seconds", "Job latency.", []float64{0.1, 1}, "queue")

	reg.Increment(c, "b")
	reg.Increment(c, "a")
	reg.Increment(c, "a")
	reg.Observe(h, 0.0625, "a")
	reg.Observe(h, 0.5, "a")

	expected := `# HELP job_seconds Job latency.
# TYPE job_seconds histogram
job_seconds_bucket{queue="a",le="0.1"} 1
job_seconds_bucket{queue="a",le="1"} 2
job_seconds_bucket{queue="a",le="+Inf"} 2
job_seconds_sum{queue="a"} 0.5625
job_seconds_count{queue="a"} 2
# HELP jobs_total Jobs processed.
# TYPE jobs_total counter
jobs_total{queue="a"} 2
jobs_total{queue="b"} 1
`
	assert.Equal(t, expected, reg.Export())
	require.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "jobs_total", "job_seconds"))
}

func TestExportIsStable(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg, nil)
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 3*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/predict", http.StatusOK, 7*time.Millisecond)

	first := reg.Export()
	second := reg.Export()
	assert.Equal(t, first, second)
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	reg := NewRegistry()
	h := reg.Histogram("latency_seconds", "Latency.", nil, "endpoint")
	for _, v := range []float64{0, 0.004, 0.02, 0.3, 2, 20} {
		h.Observe(v, "/x")
	}

	assert.Equal(t, uint64(6), h.SampleCount("/x"))
	assert.InDelta(t, 22.324, h.SampleSum("/x"), 1e-9)

	out := reg.Export()
	assert.Contains(t, out, `latency_seconds_bucket{endpoint="/x",le="0.005"} 2`)
	assert.Contains(t, out, `latency_seconds_bucket{endpoint="/x",le="0.025"} 3`)
	assert.Contains(t, out, `latency_seconds_bucket{endpoint="/x",le="10"} 5`)
	assert.Contains(t, out, `latency_seconds_bucket{endpoint="/x",le="+Inf"} 6`)
	assert.Contains(t, out, `latency_seconds_count{endpoint="/x"} 6`)
}

func TestConcurrentIncrements(t *testing.T) {
	const (
		workers = 50
		perWork = 200
	)

	reg := NewRegistry()
	c := reg.Counter("jobs_total", "Jobs processed.", "queue")
	h := reg.Histogram("job_seconds", "Job latency.", nil, "queue")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWork; j++ {
				reg.Increment(c, "a")
				reg.Observe(h, 0.01, "a")
				_ = reg.Export()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(workers*perWork), c.Value("a"))
	assert.Equal(t, uint64(workers*perWork), h.SampleCount("a"))
}

func TestConcurrentGetOrCreate(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	counters := make([]*Counter, 20)
	for i := range counters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counters[i] = reg.Counter("jobs_total", "Jobs processed.", "queue")
		}(i)
	}
	wg.Wait()

	for _, c := range counters {
		assert.Same(t, counters[0], c)
	}
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg, nil)
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `http_request_duration_seconds_count{endpoint="/health"} 1`)
}

func TestRuntimeCollectors(t *testing.T) {
	reg := NewRegistry(WithRuntimeCollectors())
	assert.Contains(t, reg.Export(), "go_goroutines")
}

func TestHTTPMetricsObserveRequest(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg, []float64{0.5, 1})

	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 20*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/predict", http.StatusBadRequest, -time.Millisecond)

	assert.Equal(t, 2.0, m.RequestCount(http.MethodGet, "/health", http.StatusOK))
	assert.Equal(t, 1.0, m.RequestCount(http.MethodPost, "/predict", http.StatusBadRequest))
	assert.Equal(t, 3.0, m.TotalRequests())
	assert.Equal(t, uint64(2), m.LatencyCount("/health"))
	assert.Equal(t, uint64(1), m.LatencyCount("/predict"))

	assert.Contains(t, reg.Export(), `http_request_duration_seconds_sum{endpoint="/predict"} 0`+"\n")

	again := NewHTTPMetrics(reg, nil)
	assert.Equal(t, 3.0, again.TotalRequests())
}

func TestInvalidUTF8LabelValues(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg, nil)

	assert.NotPanics(t, func() {
		m.ObserveRequest(http.MethodGet, "/\xff", http.StatusNotFound, time.Millisecond)
		reg.Increment(reg.Counter("jobs_total", "Jobs processed.", "queue"), "a\xffb")
	})

	assert.Equal(t, 1.0, m.RequestCount(http.MethodGet, "/\uFFFD", http.StatusNotFound))
	assert.Equal(t, 1.0, m.RequestCount(http.MethodGet, "/\xff", http.StatusNotFound))
	assert.Equal(t, uint64(1), m.LatencyCount("/\uFFFD"))

	out := reg.Export()
	assert.Contains(t, out, `http_requests_total{endpoint="/`+"\uFFFD"+`",method="GET",status_code="404"} 1`)
	assert.Contains(t, out, `jobs_total{queue="a`+"\uFFFD"+`b"} 1`)
}
