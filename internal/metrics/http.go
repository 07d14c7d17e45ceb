package metrics

import (
	"strconv"
	"time"
)

const (
	RequestsTotalName   = "http_requests_total"
	RequestDurationName = "http_request_duration_seconds"
)

// HTTPMetrics records one counter increment and one latency observation per
// served request.
type HTTPMetrics struct {
	requests *Counter
	latency  *Histogram
}

func NewHTTPMetrics(reg *Registry, buckets []float64) *HTTPMetrics {
	return &HTTPMetrics{
		requests: reg.Counter(RequestsTotalName, "Total HTTP requests", "method", "endpoint", "status_code"),
		latency:  reg.Histogram(RequestDurationName, "HTTP request latency in seconds", buckets, "endpoint"),
	}
}

// ObserveRequest records a finished request. endpoint is the literal request
// path, so routes with path parameters produce one series per concrete path.
func (m *HTTPMetrics) ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	seconds := elapsed.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.latency.Observe(seconds, endpoint)
	m.requests.Inc(method, endpoint, strconv.Itoa(status))
}

func (m *HTTPMetrics) RequestCount(method, endpoint string, status int) float64 {
	return m.requests.Value(method, endpoint, strconv.Itoa(status))
}

func (m *HTTPMetrics) TotalRequests() float64 {
	return m.requests.Total()
}

func (m *HTTPMetrics) LatencyCount(endpoint string) uint64 {
	return m.latency.SampleCount(endpoint)
}
