// Package channel is the client side of the relay socket: one long-lived,
// auto-reconnecting connection per application root, multiplexing every
// event kind over JSON envelopes.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	defaultSendBuffer = 32
	writeWait         = 5 * time.Second
	readWait          = 60 * time.Second
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Transport is what the emitters and client-side reducers need from a connection.
type Transport interface {
	On(event string, handler Handler)
	OnConnect(fn func())
	Emit(event string, payload any)
	Connected() bool
}

type Option func(*Client)

func WithHeader(header http.Header) Option {
	return func(c *Client) { c.header = header.Clone() }
}

func WithBearerToken(token string) Option {
	return func(c *Client) {
		if c.header == nil {
			c.header = http.Header{}
		}
		c.header.Set("Authorization", "Bearer "+token)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

func WithSendBuffer(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.sendBuffer = size
		}
	}
}

type Client struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	sendBuffer int

	mu        sync.RWMutex
	handlers  map[string][]Handler
	onConnect []func()
	session   *session
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}

	connected atomic.Bool
}

type session struct {
	conn   *websocket.Conn
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		dialer:     websocket.DefaultDialer,
		logger:     zap.NewNop(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		sendBuffer: defaultSendBuffer,
		handlers:   map[string][]Handler{},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers a handler for an event kind. Handlers run on the read goroutine
// in frame arrival order and must not block.
func (c *Client) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OnConnect registers a hook that runs after every successful (re)connect.
// Room memberships are not restored by the relay, so owners re-join here.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect starts the background connection loop and returns immediately.
// Calling it more than once is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Close stops reconnecting and tears down the live connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.started || c.cancel == nil {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel = nil
	s := c.session
	c.mu.Unlock()

	cancel()
	if s != nil {
		s.close()
	}
	<-c.done
}

// Emit sends an event without waiting for any acknowledgement. While
// disconnected, or when the send buffer is full, the event is logged and dropped.
func (c *Client) Emit(event string, payload any) {
	frame, err := contracts.Encode(event, payload)
	if err != nil {
		c.logger.Warn("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}

	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s == nil || !c.connected.Load() {
		c.logger.Warn("relay disconnected, dropping event", zap.String("event", event))
		return
	}

	select {
	case <-s.closed:
		c.logger.Warn("relay connection closing, dropping event", zap.String("event", event))
	case s.out <- frame:
	default:
		c.logger.Warn("send buffer full, dropping event", zap.String("event", event))
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("relay dial failed",
				zap.String("url", c.url),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue
		}

		backoff = c.minBackoff
		c.serve(ctx, conn)
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	s := &session{
		conn:   conn,
		out:    make(chan []byte, c.sendBuffer),
		closed: make(chan struct{}),
	}

	c.mu.Lock()
	c.session = s
	hooks := make([]func(), len(c.onConnect))
	copy(hooks, c.onConnect)
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Info("relay connected", zap.String("url", c.url))

	writerDone := make(chan struct{})
	go c.writeLoop(s, writerDone)
	stop := context.AfterFunc(ctx, s.close)

	for _, hook := range hooks {
		hook()
	}
	c.readLoop(s)

	stop()
	s.close()
	c.connected.Store(false)
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	<-writerDone
	c.logger.Info("relay disconnected", zap.String("url", c.url))
}

func (c *Client) readLoop(s *session) {
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				c.logger.Info("relay read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		var env contracts.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}

		c.mu.RLock()
		handlers := c.handlers[env.Event]
		c.mu.RUnlock()
		for _, handler := range handlers {
			handler(env.Data)
		}
	}
}

func (c *Client) writeLoop(s *session, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Info("relay write failed", zap.Error(err))
				s.close()
				return
			}
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
