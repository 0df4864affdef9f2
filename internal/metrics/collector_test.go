package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func render(c *MetricsCollector) string {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler()(rr, req)
	return rr.Body.String()
}

func TestHistogram_InfBucketAlwaysPresent(t *testing.T) {
	c := NewCollector()
	h := c.Histogram("test_latency_seconds", "Test latency", "", []float64{0.1, 1, 10})

	h.Observe(0.5)
	h.Observe(42) // past the largest finite bucket

	out := render(c)

	if !strings.Contains(out, `test_latency_seconds_bucket{le="+Inf"} 2`) {
		t.Fatalf("missing +Inf bucket covering all observations:\n%s", out)
	}
	if !strings.Contains(out, `test_latency_seconds_bucket{le="10"} 1`) {
		t.Fatalf("finite bucket miscounted:\n%s", out)
	}
	if !strings.Contains(out, "test_latency_seconds_count 2") {
		t.Fatalf("missing count sample:\n%s", out)
	}
}

func TestHistogram_BucketsAreCumulative(t *testing.T) {
	c := NewCollector()
	h := c.Histogram("test_dist", "Test distribution", "", []float64{1, 5})

	h.Observe(0.5)
	h.Observe(3)
	h.Observe(4)

	out := render(c)
	for _, want := range []string{
		`test_dist_bucket{le="1"} 1`,
		`test_dist_bucket{le="5"} 3`,
		`test_dist_bucket{le="+Inf"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing sample %q in:\n%s", want, out)
		}
	}
}

func TestCounterAndGaugeRendering(t *testing.T) {
	c := NewCollector()
	ctr := c.Counter("test_events_total", "Test events", "")
	g := c.Gauge("test_active", "Test active", "")

	ctr.Inc()
	ctr.Inc()
	g.Set(7)

	out := render(c)
	if !strings.Contains(out, "test_events_total 2") {
		t.Fatalf("counter sample missing:\n%s", out)
	}
	if !strings.Contains(out, "test_active 7") {
		t.Fatalf("gauge sample missing:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE test_events_total counter") {
		t.Fatalf("counter TYPE line missing:\n%s", out)
	}
}
