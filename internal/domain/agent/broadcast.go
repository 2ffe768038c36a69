package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
)

// Broadcaster fans session events out to subscribed streams. A session has
// a topic only between Activate and Deactivate; Publish outside that
// window is a no-op, so events racing a finished run are dropped rather
// than queued.
//
// Each subscription owns a private buffered channel drained by exactly one
// consumer, which keeps transport writes serialized per stream. A full
// buffer drops the event for that stream only.
type Broadcaster struct {
	mu        sync.RWMutex
	topics    map[string]map[*Subscription]struct{}
	queueSize int
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewBroadcaster creates a broadcaster with the given per-stream queue
// capacity.
func NewBroadcaster(queueSize int, logger *logging.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		topics:    make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger.Component("broadcast"),
	}
}

// WithMetrics attaches a metrics collector
func (b *Broadcaster) WithMetrics(m *monitoring.Metrics) *Broadcaster {
	b.metrics = m
	return b
}

// Subscription is one stream's private event queue. Events arrive in
// FIFO order and the channel closes when the session's topic shuts down.
type Subscription struct {
	ch chan Event
	id string
	b  *Broadcaster

	// SinceSeq is the last message sequence already covered by the init
	// snapshot. The drain loop skips message events at or below it.
	SinceSeq int64
}

// Events returns the stream's receive channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes the stream and discards anything still queued. Safe
// to call after the topic has already shut down.
func (s *Subscription) Close() {
	if s.b != nil {
		s.b.release(s)
	}
}

// Activate opens a topic for the session. Idempotent.
func (b *Broadcaster) Activate(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[id]; !ok {
		b.topics[id] = make(map[*Subscription]struct{})
	}
}

// Deactivate closes the session's topic and every subscriber channel.
// Events already queued remain readable; subsequent publishes no-op.
func (b *Broadcaster) Deactivate(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[id]
	if !ok {
		return
	}
	delete(b.topics, id)
	for sub := range subs {
		close(sub.ch)
		if b.metrics != nil {
			b.metrics.DecBroadcastStreams()
		}
	}
}

// Subscribe registers a stream on the session's topic. Returns false when
// no topic is active, which the caller treats as a finished session.
func (b *Broadcaster) Subscribe(id string) (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[id]
	if !ok {
		return nil, false
	}
	sub := &Subscription{
		ch: make(chan Event, b.queueSize),
		id: id,
		b:  b,
	}
	subs[sub] = struct{}{}
	if b.metrics != nil {
		b.metrics.IncBroadcastStreams()
	}
	return sub, true
}

// closedSubscription builds a detached, already-closed stream holding the
// given events. Used for sessions that finished before the subscriber
// arrived, which receive only the final status.
func closedSubscription(events ...Event) *Subscription {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &Subscription{ch: ch}
}

// Publish delivers ev to every stream subscribed to the session. Returns
// false when no topic is active. Streams with full queues lose the event;
// delivery to the others is unaffected.
func (b *Broadcaster) Publish(id string, ev Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.topics[id]
	if !ok {
		return false
	}
	for sub := range subs {
		select {
		case sub.ch <- ev:
			if b.metrics != nil {
				b.metrics.RecordBroadcast(string(ev.Kind))
			}
		default:
			if b.metrics != nil {
				b.metrics.RecordBroadcastDrop()
			}
			b.logger.Warn("Dropping event for slow stream",
				zap.String("session_id", id),
				zap.String("kind", string(ev.Kind)))
		}
	}
	return true
}

// Streams reports the number of active subscriptions across all topics.
func (b *Broadcaster) Streams() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}

// Active reports whether the session currently has a topic.
func (b *Broadcaster) Active(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topics[id]
	return ok
}

// release removes a single subscription from its topic.
func (b *Broadcaster) release(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.id]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if b.metrics != nil {
		b.metrics.DecBroadcastStreams()
	}
}
