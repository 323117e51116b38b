package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/internal/streamservers"
	"streamguard/pkg/errors"
	"streamguard/pkg/utils"

	"github.com/gin-gonic/gin"
)

type ServerHandler struct {
	registry *streamservers.Registry
	monitor  ports.MonitorService
	triggers domain.Triggers
	scenes   domain.SwitchingScenes
}

func NewServerHandler(
	registry *streamservers.Registry,
	monitor ports.MonitorService,
	triggers domain.Triggers,
	scenes domain.SwitchingScenes,
) *ServerHandler {
	return &ServerHandler{
		registry: registry,
		monitor:  monitor,
		triggers: triggers,
		scenes:   scenes,
	}
}

// SetupRoutes registers the API under group, which carries any auth or
// rate limiting middleware.
func (h *ServerHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/servers", h.ListServers)
	group.GET("/servers/:name", h.GetServer)
	group.GET("/servers/:name/switch", h.Switch)
	group.GET("/servers/:name/bitrate", h.Bitrate)
	group.GET("/servers/:name/source", h.SourceInfo)
	group.GET("/decisions", h.Decisions)
	group.POST("/evaluate", h.Evaluate)
}

// ServerView is the public shape of a configured entry. Credentials are
// masked.
type ServerView struct {
	Name      string                 `json:"name"`
	Kind      string                 `json:"kind"`
	Enabled   bool                   `json:"enabled"`
	Priority  *int                   `json:"priority,omitempty"`
	BaseURL   string                 `json:"base_url,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Username  string                 `json:"username,omitempty"`
	Scenes    domain.SwitchingScenes `json:"scenes"`
	DependsOn *DependsOnView         `json:"depends_on,omitempty"`
	Latest    *domain.Evaluation     `json:"latest,omitempty"`
}

type DependsOnView struct {
	Name         string                 `json:"name"`
	BackupScenes domain.SwitchingScenes `json:"backup_scenes"`
	Dangling     bool                   `json:"dangling"`
}

func (h *ServerHandler) view(e *streamservers.Entry, latest map[string]domain.Evaluation) ServerView {
	v := ServerView{
		Name:     e.Name,
		Kind:     e.StreamServer.Kind(),
		Enabled:  e.Enabled,
		Priority: e.Priority,
		Scenes:   e.Scenes(h.scenes),
	}

	if r, ok := e.StreamServer.Restreamer(); ok {
		v.BaseURL = r.BaseURL
		v.Channel = r.Channel
		v.Username = utils.MaskSensitive(r.Username, 2)
	}

	if e.DependsOn != nil {
		_, err := h.registry.Lookup(e.DependsOn.Name)
		v.DependsOn = &DependsOnView{
			Name:         e.DependsOn.Name,
			BackupScenes: e.DependsOn.BackupScenes,
			Dangling:     err != nil,
		}
	}

	if ev, ok := latest[e.Name]; ok {
		v.Latest = &ev
	}
	return v
}

func (h *ServerHandler) latestByName() map[string]domain.Evaluation {
	latest := h.monitor.Latest()
	out := make(map[string]domain.Evaluation, len(latest))
	for _, e := range latest {
		out[e.Server] = e
	}
	return out
}

func (h *ServerHandler) ListServers(c *gin.Context) {
	latest := h.latestByName()
	entries := h.registry.Entries()

	views := make([]ServerView, 0, len(entries))
	for _, e := range entries {
		views = append(views, h.view(e, latest))
	}

	c.JSON(http.StatusOK, gin.H{
		"servers": views,
		"total":   len(views),
	})
}

func (h *ServerHandler) GetServer(c *gin.Context) {
	entry, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": h.view(entry, h.latestByName())})
}

// Switch evaluates the entry now. The low and offline query parameters
// override the configured triggers for this call only.
func (h *ServerHandler) Switch(c *gin.Context) {
	entry, ok := h.lookup(c)
	if !ok {
		return
	}

	triggers, err := h.queryTriggers(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	decision := entry.StreamServer.Switch(c.Request.Context(), &triggers)
	scene, _ := entry.Scenes(h.scenes).Scene(decision)

	c.JSON(http.StatusOK, gin.H{
		"server":   entry.Name,
		"decision": decision,
		"scene":    scene,
	})
}

func (h *ServerHandler) Bitrate(c *gin.Context) {
	entry, ok := h.lookup(c)
	if !ok {
		return
	}

	bitrate := entry.StreamServer.Bitrate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"server":  entry.Name,
		"message": bitrate.Message,
	})
}

func (h *ServerHandler) SourceInfo(c *gin.Context) {
	entry, ok := h.lookup(c)
	if !ok {
		return
	}

	info, ok := entry.StreamServer.SourceInfo(c.Request.Context())
	if !ok {
		_ = c.Error(errors.NewBadGatewayError("no source info available").
			WithContext("server", entry.Name))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server": entry.Name,
		"info":   info,
	})
}

func (h *ServerHandler) Decisions(c *gin.Context) {
	latest := h.monitor.Latest()
	c.JSON(http.StatusOK, gin.H{
		"evaluations": latest,
		"total":       len(latest),
	})
}

// Evaluate runs one monitor tick outside the schedule. The tick outlives a
// client that hangs up; the monitor bounds each backend with its own timeout.
func (h *ServerHandler) Evaluate(c *gin.Context) {
	results := h.monitor.EvaluateOnce(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{
		"evaluations": results,
		"total":       len(results),
	})
}

func (h *ServerHandler) lookup(c *gin.Context) (*streamservers.Entry, bool) {
	name := c.Param("name")
	entry, err := h.registry.Lookup(name)
	if err != nil {
		if stderrors.Is(err, domain.ErrServerNotFound) {
			_ = c.Error(errors.WrapError(err, errors.ErrCodeNotFound, "stream server not found", http.StatusNotFound).
				WithContext("name", name))
		} else {
			_ = c.Error(err)
		}
		return nil, false
	}
	return entry, true
}

func (h *ServerHandler) queryTriggers(c *gin.Context) (domain.Triggers, error) {
	triggers := h.triggers
	for _, q := range []struct {
		key  string
		into **uint32
	}{
		{"low", &triggers.Low},
		{"offline", &triggers.Offline},
	} {
		raw, ok := c.GetQuery(q.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return domain.Triggers{}, errors.NewInvalidInputError("trigger must be a non-negative integer").
				WithContext("parameter", q.key)
		}
		kbit := uint32(v)
		*q.into = &kbit
	}
	return triggers, nil
}
