// Package streamservers holds the configured stream server backends and
// dispatches the switch and chat command contract to them.
package streamservers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/internal/streamservers/restreamer"

	"go.uber.org/zap"
)

// Kind names a backend implementation. It is the value of the "type" tag
// in configuration.
type Kind string

const KindRestreamer Kind = restreamer.Kind

// Kinds lists every backend kind this build understands.
func Kinds() []Kind {
	return []Kind{KindRestreamer}
}

// StreamServer holds exactly one backend variant. The zero value has no
// backend and reports Offline.
type StreamServer struct {
	kind       Kind
	restreamer *restreamer.Restreamer
}

// Deps are the runtime collaborators shared by every backend.
type Deps struct {
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	Tokens     ports.TokenStore
	TokenTTL   time.Duration
	Now        func() time.Time
}

func NewRestreamer(r *restreamer.Restreamer) StreamServer {
	return StreamServer{kind: KindRestreamer, restreamer: r}
}

func (s StreamServer) Kind() string {
	return string(s.kind)
}

// Restreamer gives typed access to the restreamer variant. It reports false
// for any other kind.
func (s StreamServer) Restreamer() (*restreamer.Restreamer, bool) {
	if s.kind != KindRestreamer || s.restreamer == nil {
		return nil, false
	}
	return s.restreamer, true
}

func (s StreamServer) backend() (ports.Backend, bool) {
	switch s.kind {
	case KindRestreamer:
		if s.restreamer != nil {
			return s.restreamer, true
		}
	}
	return nil, false
}

func (s StreamServer) Switch(ctx context.Context, triggers *domain.Triggers) domain.SwitchType {
	b, ok := s.backend()
	if !ok {
		return domain.Decide(false, 0, triggers)
	}
	return b.Switch(ctx, triggers)
}

func (s StreamServer) Bitrate(ctx context.Context) domain.Bitrate {
	b, ok := s.backend()
	if !ok {
		return domain.Bitrate{}
	}
	return b.Bitrate(ctx)
}

func (s StreamServer) SourceInfo(ctx context.Context) (string, bool) {
	b, ok := s.backend()
	if !ok {
		return "", false
	}
	return b.SourceInfo(ctx)
}

// Attach hands the runtime collaborators to the backend.
func (s StreamServer) Attach(deps Deps) {
	switch s.kind {
	case KindRestreamer:
		if s.restreamer != nil {
			s.restreamer.Attach(restreamer.Options{
				HTTPClient: deps.HTTPClient,
				Logger:     deps.Logger,
				Tokens:     deps.Tokens,
				TokenTTL:   deps.TokenTTL,
				Now:        deps.Now,
			})
		}
	}
}

func (s StreamServer) Validate() error {
	switch s.kind {
	case KindRestreamer:
		if s.restreamer == nil {
			return fmt.Errorf("restreamer: missing configuration")
		}
		return s.restreamer.Validate()
	case "":
		return fmt.Errorf("%w: missing type", domain.ErrUnknownKind)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, s.kind)
	}
}

var _ ports.Backend = StreamServer{}
