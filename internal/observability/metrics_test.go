package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.GetCounter().GetValue()
	case pb.Gauge != nil:
		return pb.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric kind")
	return 0
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.CallEvent("initiated")
	m.CallStarted()
	m.CallEnded()
	m.ProviderError("local", "create_meeting")
	m.TeardownError("delete_meeting")
	m.EndpointConnected("device", 1)
	m.SignalDelivery("join_meeting", true)
	m.WSMessage("inbound", "register")
	m.ObserveRingDuration(time.Second)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("vc", reg)

	m.CallEvent("initiated")
	m.CallEvent("initiated")
	m.SignalDelivery("join_meeting", false)
	m.CallStarted()

	if got := value(t, m.CallEvents.WithLabelValues("initiated")); got != 2 {
		t.Fatalf("expected 2 initiated, got %v", got)
	}
	if got := value(t, m.SignalDeliveries.WithLabelValues("join_meeting", "undelivered")); got != 1 {
		t.Fatalf("expected 1 undelivered, got %v", got)
	}
	if got := value(t, m.ActiveCalls); got != 1 {
		t.Fatalf("expected 1 active call, got %v", got)
	}
}

func TestMetricsHandler_Exposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("vc", reg)
	m.CallEvent("connected")

	w := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `vc_call_events_total{event="connected"} 1`) {
		t.Fatalf("expected counter in exposition, got:\n%s", w.Body.String())
	}
}
