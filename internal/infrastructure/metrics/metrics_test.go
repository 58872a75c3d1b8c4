package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesMetrics(t *testing.T) {
	TicksTotal.WithLabelValues("delta:ws").Inc()
	Subscribers.Set(2)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "pricerelay_ticks_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("pricerelay_ticks_total metric not found")
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pricerelay_hub_subscribers 2") {
		t.Errorf("subscriber gauge missing from exposition")
	}
}
