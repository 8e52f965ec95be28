package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", 200, time.Millisecond)
	m.BackendCall("schedules", "ok")
	m.NotificationRecorded("trash")
	m.PushDelivered("ok")
	m.SetWebsocketClients(3)
}

func TestCounters(t *testing.T) {
	m := New()

	m.BackendCall("schedules", "ok")
	m.BackendCall("schedules", "ok")
	m.BackendCall("schedules", "unauthorized")
	m.NotificationRecorded("trash")
	m.ObserveRequest("GET", 404, 5*time.Millisecond)
	m.SetWebsocketClients(2)
	m.PushDelivered("expired")

	if got := testutil.ToFloat64(m.backendCalls.WithLabelValues("schedules", "ok")); got != 2 {
		t.Errorf("backend ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("trash")); got != 1 {
		t.Errorf("notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "4xx")); got != 1 {
		t.Errorf("requests 4xx = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pushDeliveries.WithLabelValues("expired")); got != 1 {
		t.Errorf("push expired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.wsClients); got != 2 {
		t.Errorf("ws clients = %v, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.NotificationRecorded("rent-due")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cohabit_notifications_total{source="rent-due"} 1`) {
		t.Errorf("metrics output missing notification counter:\n%s", body)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 401: "4xx", 503: "5xx"}
	for status, want := range tests {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
