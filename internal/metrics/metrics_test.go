package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestIncAndGet(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)
	m.Inc(RoomsCreated)
	m.Inc(JoinsAccepted)

	if got := m.Get(RoomsCreated); got != 2 {
		t.Fatalf("rooms_created=%d, want 2", got)
	}
	if got := m.Get(JoinsAccepted); got != 1 {
		t.Fatalf("joins_accepted=%d, want 1", got)
	}
	if got := m.Get("never_incremented"); got != 0 {
		t.Fatalf("unknown counter=%d, want 0", got)
	}
}

func TestNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.Inc(RoomsCreated) // must not panic
	if got := m.Get(RoomsCreated); got != 0 {
		t.Fatalf("nil metrics returned %d", got)
	}
}

func TestConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(SignalsRelayed)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(SignalsRelayed); got != 1600 {
		t.Fatalf("signals_relayed=%d, want 1600", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)
	m.Inc(SessionsConnected)
	m.Inc(SessionsConnected)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "# TYPE quic_rtc_signaling_events_total counter") {
		t.Fatalf("missing TYPE line:\n%s", body)
	}
	if !strings.Contains(body, `quic_rtc_signaling_events_total{event="rooms_created"} 1`) {
		t.Fatalf("missing rooms_created sample:\n%s", body)
	}
	if !strings.Contains(body, `quic_rtc_signaling_events_total{event="sessions_connected"} 2`) {
		t.Fatalf("missing sessions_connected sample:\n%s", body)
	}
}
