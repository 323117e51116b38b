package distributed

import (
	"context"
	"sync"
	"testing"
	"time"

	"streamguard/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBus(t *testing.T, mr *miniredis.Miniredis, instanceID string) *EventBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEventBus(client, instanceID, "", zaptest.NewLogger(t).Sugar())
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *e)
	return nil
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// subscribe starts bus.Subscribe and waits until Redis sees the subscriber.
func subscribe(t *testing.T, mr *miniredis.Miniredis, bus *EventBus, c *collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, c.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] > 0
	}, time.Second, 10*time.Millisecond)
}

func TestEventBus_PublishSkipsOwnInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newBus(t, mr, "a")
	b := newBus(t, mr, "b")

	var got collector
	subscribe(t, mr, b, &got)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, &Event{Type: EventDecisionChanged, Server: "self"}))
	require.NoError(t, a.Publish(ctx, &Event{
		Type:     EventDecisionChanged,
		Server:   "main",
		Decision: domain.SwitchLow,
		Scene:    "Low",
	}))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	e := got.snapshot()[0]
	assert.Equal(t, "a", e.InstanceID)
	assert.Equal(t, "main", e.Server)
	assert.Equal(t, domain.SwitchLow, e.Decision)
	assert.False(t, e.Timestamp.IsZero())
}

type chanMonitor struct {
	ch chan domain.Evaluation
}

func (m *chanMonitor) Run(context.Context) error { return nil }
func (m *chanMonitor) EvaluateOnce(context.Context) []domain.Evaluation { return nil }
func (m *chanMonitor) Latest() []domain.Evaluation { return nil }
func (m *chanMonitor) Subscribe() (<-chan domain.Evaluation, func()) {
	return m.ch, func() {}
}

func TestEventBus_ForwardPublishesChangesOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newBus(t, mr, "publisher")
	listener := newBus(t, mr, "listener")

	var got collector
	subscribe(t, mr, listener, &got)

	monitor := &chanMonitor{ch: make(chan domain.Evaluation, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- publisher.Forward(ctx, monitor) }()

	for _, d := range []domain.SwitchType{
		domain.SwitchNormal,
		domain.SwitchNormal,
		domain.SwitchPrevious,
		domain.SwitchOffline,
	} {
		monitor.ch <- domain.Evaluation{Server: "main", Decision: d, At: time.Now()}
	}

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	normal := domain.SwitchNormal
	want := []Event{
		{Type: EventDecisionChanged, InstanceID: "publisher", Server: "main", Decision: domain.SwitchNormal},
		{Type: EventDecisionChanged, InstanceID: "publisher", Server: "main", Previous: &normal, Decision: domain.SwitchOffline},
	}
	if diff := cmp.Diff(want, got.snapshot(), cmpopts.IgnoreFields(Event{}, "Timestamp")); diff != "" {
		t.Errorf("published events mismatch (-want +got):\n%s", diff)
	}
}

func TestChangeTracker(t *testing.T) {
	tracker := newChangeTracker()

	_, changed := tracker.observe(domain.Evaluation{Server: "a", Decision: domain.SwitchPrevious})
	assert.False(t, changed, "previous never counts")

	event, changed := tracker.observe(domain.Evaluation{Server: "a", Decision: domain.SwitchLow, Scene: "Low"})
	require.True(t, changed)
	assert.Equal(t, "Low", event.Scene)

	_, changed = tracker.observe(domain.Evaluation{Server: "b", Decision: domain.SwitchLow})
	assert.True(t, changed, "servers are tracked separately")

	_, changed = tracker.observe(domain.Evaluation{Server: "a", Decision: domain.SwitchLow})
	assert.False(t, changed)
}
