package services

import (
	"context"
	"sync"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const subscriberBuffer = 16

// Target is one backend the monitor polls.
type Target struct {
	Name    string
	Backend ports.Backend
	Scenes  domain.SwitchingScenes
}

type MonitorConfig struct {
	Interval time.Duration
	// Timeout bounds one evaluation of one backend.
	Timeout  time.Duration
	Triggers domain.Triggers
}

// MonitorService evaluates every target once per tick, in parallel. A slow
// or unreachable backend only costs its own timeout.
type MonitorService struct {
	targets  []Target
	cfg      MonitorConfig
	recorder ports.EvaluationRecorder
	logger   *zap.SugaredLogger
	clog     *logger.ContextLogger
	now      func() time.Time

	mu          sync.RWMutex
	latest      []domain.Evaluation
	latestStart time.Time
	subs        map[int]chan domain.Evaluation
	nextID      int
}

func NewMonitorService(
	targets []Target,
	cfg MonitorConfig,
	recorder ports.EvaluationRecorder,
	log *zap.SugaredLogger,
) *MonitorService {
	return &MonitorService{
		targets:  targets,
		cfg:      cfg,
		recorder: recorder,
		logger:   log,
		clog:     logger.NewContextLogger(log.Desugar()),
		now:      time.Now,
		subs:     make(map[int]chan domain.Evaluation),
	}
}

// Run evaluates immediately and then on every interval until ctx is done.
func (m *MonitorService) Run(ctx context.Context) error {
	m.logger.Infow("monitor started",
		"targets", len(m.targets),
		"interval", m.cfg.Interval,
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.EvaluateOnce(ctx)

		select {
		case <-ctx.Done():
			m.logger.Infow("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// EvaluateOnce runs one tick and returns its evaluations in target order.
// A tick whose ctx ended early, or that finished after a tick started later,
// is returned but neither stored nor published.
func (m *MonitorService) EvaluateOnce(ctx context.Context) []domain.Evaluation {
	tickID := uuid.NewString()
	ctx = logger.WithTickID(ctx, tickID)
	start := m.now()

	results := make([]domain.Evaluation, len(m.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range m.targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = m.evaluate(gctx, tickID, target)
			return nil
		})
	}
	_ = g.Wait()

	// backends saw the caller's cancellation, not their own failure
	if ctx.Err() != nil {
		m.logger.Debugw("discarding cancelled tick", "tick_id", tickID, "error", ctx.Err())
		return results
	}

	if m.recorder != nil {
		m.recorder.RecordTick(m.now().Sub(start))
	}

	if !m.store(start, results) {
		m.logger.Debugw("discarding stale tick", "tick_id", tickID)
		return results
	}

	for _, e := range results {
		if m.recorder != nil {
			m.recorder.RecordEvaluation(e)
		}
		m.publish(e)
	}
	return results
}

func (m *MonitorService) evaluate(ctx context.Context, tickID string, target Target) domain.Evaluation {
	ctx = logger.WithServer(ctx, target.Name)
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	start := m.now()
	decision := target.Backend.Switch(ctx, &m.cfg.Triggers)
	scene, _ := target.Scenes.Scene(decision)

	e := domain.Evaluation{
		TickID:   tickID,
		Server:   target.Name,
		Kind:     target.Backend.Kind(),
		Decision: decision,
		Scene:    scene,
		Duration: m.now().Sub(start),
		At:       m.now(),
	}

	m.clog.WithContext(ctx).Debug("evaluated stream server",
		zap.Stringer("decision", decision),
		zap.String("scene", scene),
		zap.Duration("duration", e.Duration),
	)
	return e
}

func (m *MonitorService) store(start time.Time, results []domain.Evaluation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if start.Before(m.latestStart) {
		return false
	}
	m.latest = results
	m.latestStart = start
	return true
}

func (m *MonitorService) Latest() []domain.Evaluation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Evaluation, len(m.latest))
	copy(out, m.latest)
	return out
}

// Subscribe registers a listener. Slow listeners miss evaluations rather
// than stall the monitor.
func (m *MonitorService) Subscribe() (<-chan domain.Evaluation, func()) {
	ch := make(chan domain.Evaluation, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *MonitorService) publish(e domain.Evaluation) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, ch := range m.subs {
		select {
		case ch <- e:
		default:
			m.logger.Warnw("dropping evaluation for slow subscriber",
				"subscriber", id,
				"server", e.Server,
			)
		}
	}
}

var _ ports.MonitorService = (*MonitorService)(nil)
