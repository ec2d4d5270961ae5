package channel

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the client uses. At most one
// goroutine reads and at most one writes at a time.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct {
	d *websocket.Dialer
}

// NewGorillaDialer returns the default Dialer.
func NewGorillaDialer(handshakeTimeout time.Duration) Dialer {
	return &gorillaDialer{d: &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (g *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := g.d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
