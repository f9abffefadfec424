package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/tickhole/tickhole/internal/telemetry"
)

// collectCounter reads the current value from a CounterVec for the given label values.
// Returns -1 if no matching series is found (metric not yet observed).
func collectCounter(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 64)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		match := true
		for k, want := range labels {
			found := false
			for _, lp := range dm.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == want {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return dm.GetCounter().GetValue()
		}
	}
	return -1
}

// collectHistogramCount returns the sample count from a HistogramVec for the given labels.
func collectHistogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	ch := make(chan prometheus.Metric, 64)
	hv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		match := true
		for k, want := range labels {
			found := false
			for _, lp := range dm.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == want {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return dm.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func newMetricsRouter() *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_RecordsRouteTemplate(t *testing.T) {
	r := newMetricsRouter()

	labels := prometheus.Labels{"method": "GET", "path": "/items/:id", "status": "200"}
	before := collectCounter(telemetry.HTTPRequestsTotal, labels)

	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	after := collectCounter(telemetry.HTTPRequestsTotal, labels)
	if before == -1 {
		before = 0
	}
	if after != before+1 {
		t.Errorf("http_requests_total{path=/items/:id} = %v, want %v", after, before+1)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	r := newMetricsRouter()

	labels := prometheus.Labels{"method": "GET", "path": "/items/:id"}
	before := collectHistogramCount(telemetry.HTTPRequestDuration, labels)

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	after := collectHistogramCount(telemetry.HTTPRequestDuration, labels)
	if after != before+1 {
		t.Errorf("http_request_duration_seconds sample count = %d, want %d", after, before+1)
	}
}

func TestMetricsMiddleware_UnmatchedRouteUsesSentinelLabel(t *testing.T) {
	r := newMetricsRouter()

	labels := prometheus.Labels{"method": "GET", "path": "<no-route>", "status": "404"}
	before := collectCounter(telemetry.HTTPRequestsTotal, labels)

	req := httptest.NewRequest(http.MethodGet, "/definitely/not/registered", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	after := collectCounter(telemetry.HTTPRequestsTotal, labels)
	if before == -1 {
		before = 0
	}
	if after != before+1 {
		t.Errorf("http_requests_total{path=<no-route>} = %v, want %v", after, before+1)
	}
}
