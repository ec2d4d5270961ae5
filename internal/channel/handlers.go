package channel

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// handlerList is an ordered set of callbacks with per-registration removal.
type handlerList[T any] struct {
	mu    sync.Mutex
	next  uint64
	items []handlerItem[T]
}

type handlerItem[T any] struct {
	id uint64
	fn func(T)
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.items = append(l.items, handlerItem[T]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, it := range l.items {
			if it.id == id {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
				return
			}
		}
	}
}

func (l *handlerList[T]) emit(v T) {
	l.mu.Lock()
	items := l.items
	l.mu.Unlock()
	for _, it := range items {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(log.Fields{"component": "channel", "panic": rec}).Error("callback panicked")
				}
			}()
			it.fn(v)
		}()
	}
}
