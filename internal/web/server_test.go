package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"breeze-gateway/internal/gateway"
	"breeze-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *gateway.Gateway) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.New(gateway.Config{
		ListenAddr: "127.0.0.1:0",
		SweepCron:  "@every 1h",
		StaleAfter: time.Hour,
	}, s, testLogger())

	srv := NewServer(gw, testLogger(), opts...)
	t.Cleanup(func() {
		srv.Stop()
		s.Close()
	})
	return srv, gw
}

func seedDevice(gw *gateway.Gateway) {
	gw.Registry().Upsert(&store.Device{
		SerialNumber:  "A1B2C3D4E5F6",
		OperatingMode: "SMART",
		FanSpeed:      "LOW",
		Temperature:   215,
		RemoteAddress: "10.0.0.5:52344",
		LastUpdate:    time.Now(),
	})
}

func TestListDevices(t *testing.T) {
	srv, gw := newTestServer(t)
	seedDevice(gw)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var views []struct {
		SerialNumber string `json:"serial_number"`
		Online       bool   `json:"online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("device count = %d, want 1", len(views))
	}
	if views[0].SerialNumber != "A1B2C3D4E5F6" || !views[0].Online {
		t.Errorf("view = %+v", views[0])
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/FFFFFFFFFFFF", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendCommand(t *testing.T) {
	srv, gw := newTestServer(t)
	seedDevice(gw)

	requested := make(chan gateway.Event, 1)
	gw.Bus().On(gateway.EventCommandRequested, func(ev gateway.Event) { requested <- ev })

	body := strings.NewReader(`{"fan_speed":"HIGH"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/devices/A1B2C3D4E5F6/command", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("command_requested event not emitted")
	}
}

func TestSendCommandValidation(t *testing.T) {
	srv, gw := newTestServer(t)
	seedDevice(gw)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty command", "/api/devices/A1B2C3D4E5F6/command", `{}`, http.StatusBadRequest},
		{"bad json", "/api/devices/A1B2C3D4E5F6/command", `{`, http.StatusBadRequest},
		{"unknown device", "/api/devices/FFFFFFFFFFFF/command", `{"fan_speed":"HIGH"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestFilterReset(t *testing.T) {
	srv, gw := newTestServer(t)
	seedDevice(gw)

	req := httptest.NewRequest(http.MethodPost, "/api/devices/A1B2C3D4E5F6/filter-reset", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestWeatherValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/weather", strings.NewReader(`{"temperature":215,"humidity":150}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/weather", strings.NewReader(`{"temperature":-50,"humidity":60}`))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, WithAPIKey("secret"))

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, gw := newTestServer(t)
	seedDevice(gw)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health["devices"] != 1 || health["online"] != 1 {
		t.Errorf("health = %v", health)
	}
}
