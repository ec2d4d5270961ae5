package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"tether/internal/ports"
	"tether/internal/types"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// CloseEvent describes the end of a connection.
// Attempt is the reconnect attempt scheduled because of this close, or the
// number of attempts made when Terminal is set. Terminal is set exactly once
// when the reconnect ceiling is reached; no further reconnects follow.
type CloseEvent struct {
	Code        int
	Reason      string
	Err         error
	Attempt     int
	Intentional bool
	Terminal    bool
}

// Client is a long-lived event channel. Inbound envelopes are dispatched to
// the registry on the read goroutine; unintentional closes are followed by
// reconnects with exponential backoff up to a ceiling.
type Client struct {
	wsURL       string
	endpoint    string
	baseDelay   time.Duration
	maxAttempts int
	handshake   time.Duration

	store     ports.CredentialStore
	registry  *Registry
	dialer    Dialer
	scheduler Scheduler

	mu            sync.Mutex
	state         types.ConnectionState
	conn          Conn
	gen           uint64
	attempts      int
	timer         Timer
	intentional   bool
	terminalFired bool

	writeMu sync.Mutex

	onError handlerList[error]
	onClose handlerList[CloseEvent]

	log *log.Entry
}

type Option func(*Client)

func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithScheduler(s Scheduler) Option { return func(c *Client) { c.scheduler = s } }

func WithRegistry(r *Registry) Option { return func(c *Client) { c.registry = r } }

func NewClient(cfg types.Config, store ports.CredentialStore, opts ...Option) *Client {
	c := &Client{
		wsURL:       strings.TrimRight(cfg.WSURL, "/"),
		endpoint:    cfg.WSEndpoint,
		baseDelay:   cfg.ReconnectBaseDelay,
		maxAttempts: cfg.ReconnectMaxAttempts,
		handshake:   cfg.HandshakeTimeout,
		store:       store,
		log:         log.WithField("component", "channel"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.dialer == nil {
		c.dialer = NewGorillaDialer(c.handshake)
	}
	if c.scheduler == nil {
		c.scheduler = WallClock
	}
	if c.baseDelay <= 0 {
		c.baseDelay = types.DefaultReconnectBaseDelay
	}
	return c
}

func (c *Client) Registry() *Registry { return c.registry }

func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State() == types.Connected }

// On subscribes h to msgType and returns a function undoing exactly that subscription.
func (c *Client) On(msgType string, h Handler) (unsubscribe func()) {
	sub := c.registry.Subscribe(msgType, h)
	return func() { c.registry.Unsubscribe(sub) }
}

// OnAll subscribes h to every envelope.
func (c *Client) OnAll(h func(types.Envelope)) (unsubscribe func()) {
	return c.On(types.WildcardType, func(v any) {
		if env, ok := v.(types.Envelope); ok {
			h(env)
		}
	})
}

// OnFiltered subscribes h to the msgType envelopes whose payload satisfies
// the JMESPath expression.
func (c *Client) OnFiltered(msgType, expr string, h Handler) (unsubscribe func(), err error) {
	sub, err := c.registry.SubscribeFiltered(msgType, expr, h)
	if err != nil {
		return nil, err
	}
	return func() { c.registry.Unsubscribe(sub) }, nil
}

func (c *Client) OnError(fn func(error)) (unsubscribe func()) { return c.onError.add(fn) }

func (c *Client) OnClose(fn func(CloseEvent)) (unsubscribe func()) { return c.onClose.add(fn) }

// Connect opens the channel with the current access credential. It is a
// no-op while connecting or connected. A pending reconnect is replaced by
// this attempt. A failed dial is reported to error and close handlers and
// scheduled for reconnect like any other unintentional close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.Connecting || c.state == types.Connected {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	c.terminalFired = false
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.dial(ctx, false)
}

// Disconnect closes the channel on purpose. Pending reconnects are
// cancelled and the state stays Closing until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.stopTimerLocked()
	prev := c.state
	conn := c.conn
	c.conn = nil
	c.state = types.Closing
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if prev == types.Connected || prev == types.Connecting {
		c.log.Info("event channel closed")
		c.onClose.emit(CloseEvent{Code: websocket.CloseNormalClosure, Intentional: true})
	}
}

// Send writes one envelope. It fails with types.ErrNotConnected, also
// reported to error handlers, unless the channel is connected.
func (c *Client) Send(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == types.Connected && conn != nil
	c.mu.Unlock()
	if !connected {
		c.onError.emit(types.ErrNotConnected)
		return types.ErrNotConnected
	}

	data, err := json.Marshal(types.Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return types.Err(types.ErrMalformedPayload, err, "")
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.onError.emit(err)
		return types.Err(types.ErrNotConnected, err, "")
	}
	return nil
}

func (c *Client) dial(ctx context.Context, reconnecting bool) error {
	cred, err := c.store.Get(ctx)
	if err != nil || cred.IsZero() {
		if err == nil {
			err = types.ErrNoCredential
		} else {
			err = types.Err(types.ErrNoCredential, err, "")
		}
		c.abandon(reconnecting, err)
		return err
	}

	target, err := c.target(cred.AccessToken)
	if err != nil {
		err = types.Err(types.ErrInvalidConfig, err, "")
		c.abandon(reconnecting, err)
		return err
	}

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return nil
	}
	c.state = types.Connecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, target)
	if err != nil {
		c.log.WithError(err).Warn("event channel dial failed")
		c.onError.emit(err)
		c.closed(gen, CloseEvent{Code: websocket.CloseAbnormalClosure, Err: err})
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = types.Connected
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info("event channel connected")
	go c.readLoop(gen, conn)
	return nil
}

// abandon gives up on a dial that never reached the network. A reconnect
// that cannot proceed ends with the terminal close event. Closing is kept if
// Disconnect ran meanwhile.
func (c *Client) abandon(reconnecting bool, err error) {
	c.mu.Lock()
	if !c.intentional {
		c.state = types.Disconnected
	}
	c.mu.Unlock()
	if reconnecting {
		c.terminal(CloseEvent{Code: websocket.CloseAbnormalClosure, Err: err})
	}
}

func (c *Client) target(token string) (string, error) {
	u, err := url.Parse(c.wsURL + c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(types.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			ev := CloseEvent{Code: websocket.CloseAbnormalClosure, Err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				ev.Code = ce.Code
				ev.Reason = ce.Text
			}
			_ = conn.Close()
			c.closed(gen, ev)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.WithError(err).WithField("bytes", len(data)).Debug("dropping malformed envelope")
			continue
		}
		c.registry.Dispatch(env)
	}
}

// closed handles the end of connection gen. Events from superseded
// connections are dropped.
func (c *Client) closed(gen uint64, ev CloseEvent) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.intentional {
		c.state = types.Closing
		c.mu.Unlock()
		return
	}
	c.state = types.Disconnected
	if c.attempts >= c.maxAttempts {
		c.mu.Unlock()
		c.terminal(ev)
		return
	}
	c.attempts++
	ev.Attempt = c.attempts
	delay := BackoffDelay(c.baseDelay, c.attempts)
	c.timer = c.scheduler.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.WithFields(log.Fields{
		"code":    ev.Code,
		"attempt": ev.Attempt,
		"delay":   delay,
	}).Warn("event channel lost, reconnect scheduled")
	c.onClose.emit(ev)
}

func (c *Client) terminal(ev CloseEvent) {
	c.mu.Lock()
	if c.terminalFired || c.intentional {
		c.mu.Unlock()
		return
	}
	c.terminalFired = true
	ev.Terminal = true
	ev.Attempt = c.attempts
	c.mu.Unlock()

	c.log.WithFields(log.Fields{"code": ev.Code, "attempts": ev.Attempt}).Error("event channel gave up reconnecting")
	c.onClose.emit(ev)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.intentional || c.state != types.Disconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx := context.Background()
	if c.handshake > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*c.handshake)
		defer cancel()
	}
	_ = c.dial(ctx, true)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
