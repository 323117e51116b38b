package restreamer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeCore imitates the parts of the restreamer core API the adapter uses.
type fakeCore struct {
	t *testing.T

	mu        sync.Mutex
	auths     []string
	process   string // raw JSON for the process endpoint
	status    int    // forced status for the process endpoint
	accessTTL time.Duration
	revoked   map[string]bool

	logins    atomic.Int32
	refreshes atomic.Int32
	fetches   atomic.Int32

	lastFilter atomic.Value
}

const (
	fakeUser     = "admin"
	fakePassword = "secret"
	fakeChannel  = "restreamer-ui:ingest:abc"
)

func newFakeCore(t *testing.T) (*fakeCore, *httptest.Server) {
	t.Helper()
	f := &fakeCore{
		t:         t,
		auths:     []string{"localjwt"},
		accessTTL: time.Hour,
		revoked:   map[string]bool{},
	}
	f.setProgress(2499.7, 3)

	mux := http.NewServeMux()
	mux.HandleFunc("/api", f.handleAbout)
	mux.HandleFunc("/api/login", f.handleLogin)
	mux.HandleFunc("/api/login/refresh", f.handleRefresh)
	mux.HandleFunc("/api/v3/process/", f.handleProcess)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCore) setProgress(bitrate float64, drop uint64) {
	body, _ := json.Marshal(map[string]any{
		"id": fakeChannel,
		"state": map[string]any{
			"exec":  "running",
			"order": "start",
			"progress": map[string]any{
				"bitrate_kbit": bitrate,
				"drop":         drop,
				"dup":          0,
				"fps":          30.0,
				"frame":        1200,
				"packet":       1500,
				"q":            23.0,
				"size_kb":      4096,
				"speed":        1.0,
				"time":         40.5,
				"inputs": []map[string]any{{
					"address":      "rtmp://localhost/live",
					"bitrate_kbit": bitrate,
					"codec":        "h264",
					"coder":        "copy",
					"format":       "flv",
					"fps":          30.0,
					"id":           "input_0",
					"type":         "video",
					"width":        1920,
					"height":       1080,
				}},
				"outputs": []map[string]any{},
			},
		},
	})
	f.setProcessJSON(string(body))
}

func (f *fakeCore) setProcessJSON(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.process = raw
}

func (f *fakeCore) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeCore) setAuths(auths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = auths
}

func (f *fakeCore) setAccessTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessTTL = ttl
}

func (f *fakeCore) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

func (f *fakeCore) sign(subject string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        time.Now().Format(time.RFC3339Nano),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-core"))
	if err != nil {
		f.t.Fatalf("sign token: %v", err)
	}
	return token
}

func (f *fakeCore) handleAbout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	auths := f.auths
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"app":     "datarhei-core",
		"auths":   auths,
		"version": map[string]string{"number": "16.12.0"},
	})
}

func (f *fakeCore) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Username != fakeUser || req.Password != fakePassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	f.logins.Add(1)

	f.mu.Lock()
	ttl := f.accessTTL
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  f.sign("access", ttl),
		"refresh_token": f.sign("refresh", 24*time.Hour),
	})
}

func (f *fakeCore) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if bearer(r) == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.refreshes.Add(1)

	f.mu.Lock()
	ttl := f.accessTTL
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access_token": f.sign("access", ttl)})
}

func (f *fakeCore) handleProcess(w http.ResponseWriter, r *http.Request) {
	f.fetches.Add(1)
	f.lastFilter.Store(r.URL.Query().Get("filter"))

	token := bearer(r)

	f.mu.Lock()
	revoked := f.revoked[token]
	status := f.status
	body := f.process
	f.mu.Unlock()

	if token == "" || revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream exploded"))
		return
	}
	if strings.TrimPrefix(r.URL.Path, "/api/v3/process/") != fakeChannel {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown process"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}
