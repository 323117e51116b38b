// Package restreamertest provides a minimal restreamer core for tests in
// other packages.
package restreamertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	Username = "admin"
	Password = "secret"
	Channel  = "restreamer-ui:ingest:test"
)

// Server answers the probe, login and process endpoints with a
// configurable progress reading.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	bitrate float64
	drop    uint64
	down    bool
}

func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api", s.handleAbout)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/v3/process/", s.handleProcess)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetProgress sets the reading returned by the process endpoint.
func (s *Server) SetProgress(bitrateKbit float64, drop uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitrate, s.drop = bitrateKbit, drop
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Server) isDown(w http.ResponseWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}
	return s.down
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	if s.isDown(w) {
		return
	}
	writeJSON(w, map[string]interface{}{
		"app":     "datarhei-core",
		"auths":   []string{"localjwt"},
		"version": map[string]string{"number": "16.14.0"},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.isDown(w) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != Username || req.Password != Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"access_token": "access", "refresh_token": "refresh"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.isDown(w) {
		return
	}
	if r.Header.Get("Authorization") != "Bearer access" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v3/process/")
	if id != Channel {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	body := fmt.Sprintf(`{"id":%q,"state":{"order":"start","exec":"running","progress":{"bitrate_kbit":%g,"drop":%d}}}`,
		id, s.bitrate, s.drop)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
