package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/QASchoolUSA/quic-rtc/internal/config"
	"github.com/QASchoolUSA/quic-rtc/internal/metrics"
	"github.com/QASchoolUSA/quic-rtc/internal/signaling"
)

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	stub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	srv := New(cfg, nil, metrics.New(), stub)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
}

func TestCreateRoom(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp, err := http.Post(ts.URL+"/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d, want 201", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var body struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Minted ids must themselves pass the join-time room id check.
	if !signaling.ValidRoomID(body.RoomID) {
		t.Fatalf("minted room id %q fails the accepted pattern", body.RoomID)
	}
}

func TestCreateRoomIDsUnique(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		resp, err := http.Post(ts.URL+"/rooms", "application/json", nil)
		if err != nil {
			t.Fatalf("POST /rooms: %v", err)
		}
		var body struct {
			RoomID string `json:"roomId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if seen[body.RoomID] {
			t.Fatalf("duplicate room id %q", body.RoomID)
		}
		seen[body.RoomID] = true
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestCORSHeaders(t *testing.T) {
	cfg := config.Config{AllowedOrigins: []string{"https://meet.example.com"}}
	ts := newTestServer(t, cfg)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/rooms", nil)
	req.Header.Set("Origin", "https://meet.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://meet.example.com" {
		t.Fatalf("allow-origin=%q", got)
	}
}
