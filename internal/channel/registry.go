package channel

import (
	"sync"
	"tether/internal/types"

	"github.com/google/uuid"
	"github.com/jmespath/go-jmespath"
	log "github.com/sirupsen/logrus"
)

// Handler receives the payload of an envelope. Handlers subscribed to the
// wildcard type receive the whole types.Envelope instead.
type Handler func(payload any)

// Subscription identifies exactly one registration.
type Subscription struct {
	Type string
	ID   uuid.UUID
}

type registration struct {
	id     uuid.UUID
	fn     Handler
	filter *jmespath.JMESPath
}

// Registry maps message types to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]registration{}}
}

// Subscribe appends h to the handlers of msgType. Registering the same
// function twice yields two independent subscriptions.
func (r *Registry) Subscribe(msgType string, h Handler) Subscription {
	return r.add(msgType, h, nil)
}

// SubscribeFiltered is Subscribe with a JMESPath guard evaluated against the
// payload; the handler only runs when the expression yields true.
func (r *Registry) SubscribeFiltered(msgType, expr string, h Handler) (Subscription, error) {
	jp, err := compileFilter(expr)
	if err != nil {
		return Subscription{}, err
	}
	return r.add(msgType, h, jp), nil
}

func (r *Registry) add(msgType string, h Handler, jp *jmespath.JMESPath) Subscription {
	sub := Subscription{Type: msgType, ID: uuid.New()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], registration{id: sub.ID, fn: h, filter: jp})
	return sub
}

// Unsubscribe removes exactly the registration behind sub and reports whether
// it was still present.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[sub.Type]
	for i, reg := range regs {
		if reg.id != sub.ID {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.Type)
		} else {
			r.handlers[sub.Type] = next
		}
		return true
	}
	return false
}

// Len is the number of handlers registered for msgType.
func (r *Registry) Len(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[msgType])
}

// Dispatch delivers env to the handlers of env.Type in registration order,
// then to wildcard handlers, which always receive the whole envelope; an
// envelope typed "*" goes to wildcard handlers only. The handler set is
// snapshotted first, so a handler may (un)subscribe while being dispatched
// to. It returns the number of handlers invoked.
func (r *Registry) Dispatch(env types.Envelope) int {
	r.mu.RLock()
	wild := r.handlers[types.WildcardType]
	var typed []registration
	if env.Type != types.WildcardType {
		typed = r.handlers[env.Type]
	}
	r.mu.RUnlock()

	n := 0
	for _, reg := range typed {
		if reg.filter != nil && !matches(reg.filter, env.Payload) {
			continue
		}
		invoke(reg.fn, env.Type, env.Payload)
		n++
	}
	for _, reg := range wild {
		if reg.filter != nil && !matches(reg.filter, map[string]any{"type": env.Type, "payload": env.Payload}) {
			continue
		}
		invoke(reg.fn, env.Type, env)
		n++
	}
	return n
}

func invoke(fn Handler, msgType string, arg any) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(log.Fields{
				"component": "channel",
				"type":      msgType,
				"panic":     rec,
			}).Error("handler panicked")
		}
	}()
	fn(arg)
}
