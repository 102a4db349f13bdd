package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"breeze-gateway/internal/gateway"
	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// Server is the local REST and WebSocket surface of the gateway.
type Server struct {
	gw             *gateway.Gateway
	wsHub          *EventHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(gw *gateway.Gateway, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		gw:     gw,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewEventHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Every gateway event is mirrored onto the live WebSocket stream;
	// per-client filtering happens in the hub.
	s.unsubEvents = gw.Bus().OnAll(s.wsHub.Publish)

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/devices/{serial}", s.handleGetDevice)
	s.mux.HandleFunc("POST /api/devices/{serial}/command", s.handleSendCommand)
	s.mux.HandleFunc("POST /api/devices/{serial}/filter-reset", s.handleFilterReset)
	s.mux.HandleFunc("POST /api/devices/{serial}/setup", s.handleDeviceSetup)
	s.mux.HandleFunc("POST /api/weather", s.handleWeather)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only /api/ routes require the key; the WS upgrade cannot carry
		// custom headers from a browser.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// deviceView augments a stored record with liveness for API consumers.
type deviceView struct {
	*store.Device
	Online bool `json:"online"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.gw.Registry().List()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, deviceView{Device: dev, Online: s.gw.Registry().IsOnline(dev.SerialNumber)})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	dev, err := s.gw.Registry().Get(serial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get device", "serial", serial, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, deviceView{Device: dev, Online: s.gw.Registry().IsOnline(serial)})
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if _, err := s.gw.Registry().Get(serial); err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	var cmd protocol.DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	cmd.SerialNumber = serial
	if cmd.OperatingMode == "" && cmd.FanSpeed == "" && cmd.HumidityLevel == "" && cmd.LightSensitivity == "" {
		http.Error(w, "Command sets no fields", http.StatusBadRequest)
		return
	}

	s.gw.SendCommand(cmd)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleFilterReset(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if _, err := s.gw.Registry().Get(serial); err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}
	s.gw.ResetFilter(serial)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleDeviceSetup(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if _, err := s.gw.Registry().Get(serial); err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	var setup protocol.DeviceSetup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	setup.SerialNumber = serial
	if setup.DeviceRole == "" {
		http.Error(w, "device_role is required", http.StatusBadRequest)
		return
	}

	s.gw.SetupDevice(setup)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	var wu protocol.WeatherUpdate
	if err := json.NewDecoder(r.Body).Decode(&wu); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if wu.Humidity < 0 || wu.Humidity > 100 {
		http.Error(w, "humidity out of range", http.StatusBadRequest)
		return
	}

	s.gw.SendWeather(wu)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	devices, err := s.gw.Registry().List()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	online := 0
	for _, dev := range devices {
		if s.gw.Registry().IsOnline(dev.SerialNumber) {
			online++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"devices": len(devices),
		"online":  online,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
