package channel

import (
	"context"
	"errors"
	"sync"
	"tether/internal/backends/memory"
	"tether/internal/types"
	"time"

	"github.com/gorilla/websocket"
)

type inbound struct {
	mt   int
	data []byte
	err  error
}

// fakeConn is fed by the test through push/drop.
type fakeConn struct {
	in     chan inbound
	mu     sync.Mutex
	out    [][]byte
	closed bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan inbound, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	m, ok := <-f.in
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return m.mt, m.data, m.err
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	if mt == websocket.TextMessage {
		f.out = append(f.out, data)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.in) })
	return nil
}

func (f *fakeConn) push(s string) { f.in <- inbound{mt: websocket.TextMessage, data: []byte(s)} }

func (f *fakeConn) drop(code int) {
	f.in <- inbound{err: &websocket.CloseError{Code: code, Text: "gone"}}
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.out...)
}

// fakeDialer returns queued results; when the queue is empty it fails.
type fakeDialer struct {
	mu      sync.Mutex
	results []any
	urls    []string
}

func (d *fakeDialer) queue(rs ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, rs...)
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	switch v := r.(type) {
	case *fakeConn:
		return v, nil
	case error:
		return nil, v
	}
	return nil, errors.New("bad fake result")
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records timers; the test fires them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

// fireLast runs the most recent timer unless it was stopped.
func (s *fakeScheduler) fireLast() {
	t := s.last()
	if !t.stopped {
		t.fn()
	}
}

// gatedStore blocks the next Get once armed, until release is closed.
type gatedStore struct {
	*memory.CredentialStore
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) arm() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	return g.entered, g.release
}

func (g *gatedStore) Get(ctx context.Context) (types.Credential, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return g.CredentialStore.Get(ctx)
}
