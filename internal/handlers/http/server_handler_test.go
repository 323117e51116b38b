package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/infrastructure/middleware"
	"streamguard/internal/infrastructure/monitoring"
	"streamguard/internal/streamservers"
	"streamguard/internal/streamservers/restreamer"
	"streamguard/internal/streamservers/restreamer/restreamertest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMonitor struct {
	latest    []domain.Evaluation
	evaluated int
	ctxErr    error
}

func (f *fakeMonitor) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeMonitor) EvaluateOnce(ctx context.Context) []domain.Evaluation {
	f.evaluated++
	f.ctxErr = ctx.Err()
	return f.latest
}

func (f *fakeMonitor) Latest() []domain.Evaluation {
	return f.latest
}

func (f *fakeMonitor) Subscribe() (<-chan domain.Evaluation, func()) {
	ch := make(chan domain.Evaluation)
	return ch, func() {}
}

func u32(v uint32) *uint32 { return &v }

var defaultScenes = domain.SwitchingScenes{Normal: "Live", Low: "Low", Offline: "BRB"}

type fixture struct {
	core    *restreamertest.Server
	monitor *fakeMonitor
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core := restreamertest.NewServer(t)
	prio := 1
	registry := streamservers.NewRegistry([]streamservers.Entry{
		{
			StreamServer: streamservers.NewRestreamer(&restreamer.Restreamer{
				BaseURL:  core.URL,
				Username: restreamertest.Username,
				Password: restreamertest.Password,
				Channel:  restreamertest.Channel,
			}),
			Name:     "main",
			Priority: &prio,
			Enabled:  true,
		},
		{
			StreamServer: streamservers.NewRestreamer(&restreamer.Restreamer{
				BaseURL:  core.URL,
				Username: restreamertest.Username,
				Password: restreamertest.Password,
				Channel:  restreamertest.Channel,
			}),
			Name:      "backup",
			DependsOn: &streamservers.DependsOn{Name: "ghost", BackupScenes: defaultScenes},
		},
	})
	registry.Attach(streamservers.Deps{
		HTTPClient: core.Client(),
		Logger:     zaptest.NewLogger(t).Sugar(),
	})

	monitor := &fakeMonitor{latest: []domain.Evaluation{
		{TickID: "tick-1", Server: "main", Kind: "Restreamer", Decision: domain.SwitchNormal, Scene: "Live"},
	}}

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	handler := NewServerHandler(registry, monitor, domain.Triggers{Low: u32(1000), Offline: u32(200)}, defaultScenes)
	handler.SetupRoutes(router.Group("/api/v1"))

	return &fixture{core: core, monitor: monitor, router: router}
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return f.do(t, http.MethodGet, target)
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestServerHandler_ListServers(t *testing.T) {
	f := newFixture(t)

	w, body := f.get(t, "/api/v1/servers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])

	servers := body["servers"].([]interface{})
	main := servers[0].(map[string]interface{})
	assert.Equal(t, "main", main["name"])
	assert.Equal(t, "Restreamer", main["kind"])
	assert.Equal(t, true, main["enabled"])
	assert.Equal(t, "ad***", main["username"])
	assert.NotContains(t, w.Body.String(), restreamertest.Password)

	latest := main["latest"].(map[string]interface{})
	assert.Equal(t, "normal", latest["decision"])

	backup := servers[1].(map[string]interface{})
	assert.Equal(t, false, backup["enabled"])
	assert.Nil(t, backup["latest"])
	dependsOn := backup["depends_on"].(map[string]interface{})
	assert.Equal(t, "ghost", dependsOn["name"])
	assert.Equal(t, true, dependsOn["dangling"])
}

func TestServerHandler_GetServer(t *testing.T) {
	f := newFixture(t)

	w, body := f.get(t, "/api/v1/servers/main")
	require.Equal(t, http.StatusOK, w.Code)
	server := body["server"].(map[string]interface{})
	assert.Equal(t, restreamertest.Channel, server["channel"])

	w, body = f.get(t, "/api/v1/servers/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestServerHandler_Switch(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		bitrate  float64
		query    string
		decision string
		scene    string
	}{
		{"normal", 3000, "", "normal", "Live"},
		{"low", 800, "", "low", "Low"},
		{"offline trigger", 150, "", "offline", "BRB"},
		{"silent keeps previous", 0, "", "previous", ""},
		{"query overrides low", 3000, "?low=5000", "low", "Low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.core.SetProgress(tt.bitrate, 0)
			w, body := f.get(t, "/api/v1/servers/main/switch"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.decision, body["decision"])
			assert.Equal(t, tt.scene, body["scene"])
		})
	}
}

func TestServerHandler_SwitchInvalidTrigger(t *testing.T) {
	f := newFixture(t)

	w, body := f.get(t, "/api/v1/servers/main/switch?low=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"])
}

func TestServerHandler_SwitchBackendDown(t *testing.T) {
	f := newFixture(t)
	f.core.SetDown(true)

	w, body := f.get(t, "/api/v1/servers/main/switch")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "offline", body["decision"])
	assert.Equal(t, "BRB", body["scene"])
}

func TestServerHandler_Bitrate(t *testing.T) {
	f := newFixture(t)

	f.core.SetProgress(2500.7, 0)
	w, body := f.get(t, "/api/v1/servers/main/bitrate")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2500", body["message"])

	f.core.SetProgress(0, 0)
	_, body = f.get(t, "/api/v1/servers/main/bitrate")
	assert.Nil(t, body["message"])
}

func TestServerHandler_SourceInfo(t *testing.T) {
	f := newFixture(t)

	f.core.SetProgress(3000, 4)
	w, body := f.get(t, "/api/v1/servers/main/source")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3000.0 Kbps | dropped 4 packets", body["info"])

	f.core.SetDown(true)
	w, body = f.get(t, "/api/v1/servers/main/source")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "BAD_GATEWAY", body["error"])
}

func TestServerHandler_DecisionsAndEvaluate(t *testing.T) {
	f := newFixture(t)

	w, body := f.get(t, "/api/v1/decisions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, 0, f.monitor.evaluated)

	w, body = f.do(t, http.MethodPost, "/api/v1/evaluate")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, 1, f.monitor.evaluated)
}

func TestServerHandler_EvaluateOutlivesClient(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.monitor.evaluated)
	assert.NoError(t, f.monitor.ctxErr)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	checker := monitoring.NewHealthChecker()
	failing := false
	checker.AddCheck("redis", func(context.Context) error {
		if failing {
			return stderrors.New("connection refused")
		}
		return nil
	}, time.Second)

	router := gin.New()
	NewHealthHandler(checker, time.Now()).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	failing = true
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
