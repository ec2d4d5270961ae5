package auth

import (
	"context"
	"sync"
	"tether/internal/ports"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const TeardownEventName = "session_teardown"

// TeardownEvent is emitted when the session becomes unusable and the user
// must authenticate again.
type TeardownEvent struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type teardownMessage struct {
	Event  string    `json:"event"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Teardown is the observable "session ended" signal.
// Handlers run synchronously in registration order.
type Teardown struct {
	mu       sync.Mutex
	next     uint64
	order    []uint64
	handlers map[uint64]func(TeardownEvent)

	publisher      ports.Publisher
	topic          string
	publishTimeout time.Duration
}

// DefaultPublishTimeout bounds a teardown publish when none is configured.
const DefaultPublishTimeout = 10 * time.Second

// NewTeardown returns a signal that additionally publishes every event to
// topic when publisher is non-nil and topic is set.
func NewTeardown(publisher ports.Publisher, topic string) *Teardown {
	return &Teardown{
		handlers:       map[uint64]func(TeardownEvent){},
		publisher:      publisher,
		topic:          topic,
		publishTimeout: DefaultPublishTimeout,
	}
}

// WithPublishTimeout sets how long Fire waits for the publisher. Zero or
// negative values keep the current timeout.
func (t *Teardown) WithPublishTimeout(d time.Duration) *Teardown {
	if d > 0 {
		t.publishTimeout = d
	}
	return t
}

// OnTeardown registers fn and returns a function removing exactly that registration.
func (t *Teardown) OnTeardown(fn func(TeardownEvent)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	t.handlers[id] = fn
	t.order = append(t.order, id)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.handlers[id]; !ok {
			return
		}
		delete(t.handlers, id)
		for i, v := range t.order {
			if v == id {
				t.order = append(t.order[:i:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// Fire notifies every handler and the publisher, if any.
func (t *Teardown) Fire(ctx context.Context, reason string) {
	ev := TeardownEvent{Reason: reason, At: time.Now().UTC()}

	t.mu.Lock()
	fns := make([]func(TeardownEvent), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.handlers[id])
	}
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"component": "teardown",
		"reason":    reason,
		"handlers":  len(fns),
	}).Warn("session torn down")

	for _, fn := range fns {
		runTeardownHandler(fn, ev)
	}

	if t.publisher == nil || t.topic == "" {
		return
	}
	payload, err := json.Marshal(teardownMessage{Event: TeardownEventName, Reason: ev.Reason, At: ev.At})
	if err != nil {
		log.WithError(err).Error("failed to encode teardown message")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, t.publishTimeout)
	defer cancel()
	if err := t.publisher.Publish(ctx, t.topic, TeardownEventName, payload); err != nil {
		log.WithError(err).WithField("topic", t.topic).Error("failed to publish teardown message")
	}
}

func runTeardownHandler(fn func(TeardownEvent), ev TeardownEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("teardown handler panicked")
		}
	}()
	fn(ev)
}
