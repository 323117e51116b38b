// Package restreamer monitors a process on a restreamer core through its
// JWT authenticated v3 API.
package restreamer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/pkg/httpx"
	"streamguard/pkg/tracing"
	"streamguard/pkg/validation"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const Kind = "Restreamer"

var defaultHTTPClient = httpx.NewClient(httpx.DefaultTimeout)

// Restreamer is the configuration and runtime state of one monitored
// restreamer channel. The exported fields are its configuration; the rest
// is attached at runtime and never serialized.
type Restreamer struct {
	BaseURL  string `json:"baseUrl" yaml:"baseUrl"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// Channel is the process id to monitor.
	Channel string `json:"channel" yaml:"channel"`

	mu      sync.RWMutex
	runtime runtimeDeps
}

// Options are the runtime collaborators of an adapter. Zero values fall
// back to a bounded HTTP client, a no-op logger and no token cache.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	Tokens     ports.TokenStore
	// TokenTTL caches tokens whose expiry cannot be read.
	TokenTTL time.Duration
	Now      func() time.Time
}

type runtimeDeps struct {
	http     *http.Client
	logger   *zap.SugaredLogger
	tokens   ports.TokenStore
	tokenTTL time.Duration
	now      func() time.Time
}

// Attach swaps the runtime collaborators. It is safe to call while polls
// are in flight; they finish with the collaborators they started with.
func (r *Restreamer) Attach(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime = runtimeDeps{
		http:     opts.HTTPClient,
		logger:   opts.Logger,
		tokens:   opts.Tokens,
		tokenTTL: opts.TokenTTL,
		now:      opts.Now,
	}
}

func (r *Restreamer) deps() runtimeDeps {
	r.mu.RLock()
	d := r.runtime
	r.mu.RUnlock()

	if d.http == nil {
		d.http = defaultHTTPClient
	}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.tokenTTL <= 0 {
		d.tokenTTL = defaultTokenTTL
	}
	return d
}

func (r *Restreamer) Kind() string {
	return Kind
}

// Validate checks the configuration fields.
func (r *Restreamer) Validate() error {
	if err := validation.ValidateBaseURL(r.BaseURL); err != nil {
		return fmt.Errorf("restreamer: %w", err)
	}
	if err := validation.ValidateChannel(r.Channel); err != nil {
		return fmt.Errorf("restreamer: %w", err)
	}
	if err := validation.ValidateNonEmptyString(r.Username, "username"); err != nil {
		return fmt.Errorf("restreamer: %w", err)
	}
	return nil
}

// Stats logs in and fetches the current progress of the monitored process.
// Every call performs a fresh round trip.
func (r *Restreamer) Stats(ctx context.Context) (*Progress, error) {
	ctx, span := tracing.TraceBackendFetch(ctx, "restreamer", r.Channel)
	defer span.End()

	progress, err := r.fetch(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	tracing.AddSpanAttributes(ctx,
		tracing.BitrateKey.Float64(progress.BitrateKbit),
		attribute.Int64("drop", int64(progress.Drop)),
	)
	return progress, nil
}

func (r *Restreamer) fetch(ctx context.Context) (*Progress, error) {
	d := r.deps()
	client := NewClient(r.BaseURL, d.http)

	tokens, err := r.session(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("%w: login: %w", domain.ErrFetchFailed, err)
	}

	process, err := client.ProcessState(ctx, tokens.AccessToken, r.Channel)
	if isUnauthorized(err) && d.tokens != nil {
		// cached session was revoked server side
		r.dropTokens(ctx)
		if tokens, err = r.login(ctx, client); err != nil {
			return nil, fmt.Errorf("%w: login: %w", domain.ErrFetchFailed, err)
		}
		process, err = client.ProcessState(ctx, tokens.AccessToken, r.Channel)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: process %s: %w", domain.ErrFetchFailed, r.Channel, err)
	}

	progress, err := process.Progress()
	if err != nil {
		return nil, fmt.Errorf("%w: process %s: %w", domain.ErrFetchFailed, r.Channel, err)
	}

	d.logger.Debugw("restreamer progress",
		"channel", r.Channel,
		"bitrate_kbit", progress.BitrateKbit,
		"drop", progress.Drop,
		"fps", progress.FPS,
	)
	return progress, nil
}

// stats wraps Stats for the contract methods, logging and swallowing errors.
func (r *Restreamer) stats(ctx context.Context) (*Progress, bool) {
	progress, err := r.Stats(ctx)
	if err != nil {
		r.deps().logger.Errorw("unable to get restreamer stats",
			"base_url", r.BaseURL,
			"channel", r.Channel,
			"error", err,
		)
		return nil, false
	}
	return progress, true
}

func (r *Restreamer) Switch(ctx context.Context, triggers *domain.Triggers) domain.SwitchType {
	progress, ok := r.stats(ctx)
	if !ok {
		return domain.Decide(false, 0, triggers)
	}
	return domain.Decide(true, progress.BitrateKbit, triggers)
}

func (r *Restreamer) Bitrate(ctx context.Context) domain.Bitrate {
	progress, ok := r.stats(ctx)
	if !ok {
		return domain.Bitrate{}
	}
	return domain.FormatBitrate(progress.BitrateKbit)
}

func (r *Restreamer) SourceInfo(ctx context.Context) (string, bool) {
	progress, ok := r.stats(ctx)
	if !ok {
		return "", false
	}
	return domain.FormatSourceInfo(progress.BitrateKbit, progress.Drop), true
}

var _ ports.Backend = (*Restreamer)(nil)
