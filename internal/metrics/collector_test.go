package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	c := NewMetricsCollector()

	ctr := c.Counter("test_total", "test counter")
	ctr.Inc()
	ctr.Add(2)
	if ctr.Value() != 3 {
		t.Fatalf("counter: got %d, want 3", ctr.Value())
	}

	// Same name returns the same instance.
	if c.Counter("test_total", "test counter") != ctr {
		t.Fatal("counter registry must deduplicate by name")
	}

	g := c.Gauge("test_gauge", "test gauge")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("gauge: got %d, want 4", g.Value())
	}
}

func TestHandler_RendersExpositionFormat(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("infobot_test_total", "A test counter").Add(7)
	c.Gauge("infobot_test_pending", "A test gauge").Set(2)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type: %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE infobot_test_total counter",
		"infobot_test_total 7",
		"# TYPE infobot_test_pending gauge",
		"infobot_test_pending 2",
		"infobot_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition output missing %q:\n%s", want, body)
		}
	}
}
