// Package live keeps a page in step with unsolicited server pushes. Each page id gets one
// long-lived stream; every message on it is a batch applied through the shared Applier, in
// arrival order.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/astromechza/fieldsync/pkg/update"
)

var ErrAlreadyOpen = errors.New("live connection already open for page")

// State of a live connection.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ReconnectPolicy controls what happens when an open stream drops. The zero value never
// reconnects: the connection closes on the first fault.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxAttempts bounds consecutive failed attempts; zero is unbounded.
	MaxAttempts int
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()
	return b
}

// Client opens live connections against one server.
type Client struct {
	baseURL    *url.URL
	path       string
	pageParam  string
	transport  Transport
	httpClient *http.Client
	dialer     *websocket.Dialer
	applier    *update.Applier
	logger     *slog.Logger
	reconnect  ReconnectPolicy
	stateHook  func(pageID string, state State)

	lock  sync.Mutex
	conns map[string]*Conn
}

type Option func(*Client)

// WithPath sets the stream path relative to the base url. Defaults to "appupdates".
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithPageParam sets the query parameter carrying the page id. Defaults to "pageid".
func WithPageParam(name string) Option {
	return func(c *Client) { c.pageParam = name }
}

// WithTransport selects server-sent events (the default) or websocket.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithHTTPClient sets the client used for event streams. It must not have a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithReconnect sets the reconnect policy.
func WithReconnect(p ReconnectPolicy) Option {
	return func(c *Client) { c.reconnect = p }
}

// WithStateHook registers a function called on every state transition, from the
// connection's goroutine.
func WithStateHook(f func(pageID string, state State)) Option {
	return func(c *Client) { c.stateHook = f }
}

func NewClient(baseURL string, applier *update.Applier, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	c := &Client{
		baseURL:    u,
		path:       "appupdates",
		pageParam:  "pageid",
		transport:  TransportSSE,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
		applier:    applier,
		logger:     applier.Logger(),
		conns:      make(map[string]*Conn),
	}
	for _, o := range opts {
		o(c)
	}
	if c.transport != TransportSSE && c.transport != TransportWebsocket {
		return nil, fmt.Errorf("unknown transport %q", c.transport)
	}
	return c, nil
}

// Open starts the live connection for pageID and returns at once; messages are delivered in
// the background until the connection is closed. The connection ends when ctx is cancelled,
// when Close is called, or on a fault the reconnect policy does not cover.
func (c *Client) Open(ctx context.Context, pageID string) (*Conn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.conns[pageID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, pageID)
	}
	cctx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		client: c,
		pageID: pageID,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger.With("page", pageID, "transport", string(c.transport)),
	}
	c.conns[pageID] = conn
	go conn.run()
	return conn, nil
}

func (c *Client) forget(conn *Conn) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conns[conn.pageID] == conn {
		delete(c.conns, conn.pageID)
	}
}

func (c *Client) streamURL(pageID string) *url.URL {
	u := c.baseURL.JoinPath(c.path)
	q := u.Query()
	q.Set(c.pageParam, pageID)
	u.RawQuery = q.Encode()
	return u
}

func (c *Client) dial(ctx context.Context, pageID string) (stream, error) {
	target := c.streamURL(pageID)
	if c.transport == TransportWebsocket {
		return dialWebsocket(ctx, c.dialer, target)
	}
	return dialSSE(ctx, c.httpClient, target)
}

// Conn is a handle on one page's live connection.
type Conn struct {
	client *Client
	pageID string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
	state  atomic.Int32
}

func (conn *Conn) PageID() string {
	return conn.pageID
}

func (conn *Conn) State() State {
	return State(conn.state.Load())
}

// Done is closed once the connection is Closed and will apply nothing further.
func (conn *Conn) Done() <-chan struct{} {
	return conn.done
}

// Close stops delivery and waits until the connection is Closed. It is safe to call more
// than once.
func (conn *Conn) Close() error {
	conn.cancel()
	<-conn.done
	return nil
}

func (conn *Conn) setState(s State) {
	conn.state.Store(int32(s))
	if conn.client.stateHook != nil {
		conn.client.stateHook(conn.pageID, s)
	}
}

func (conn *Conn) run() {
	defer close(conn.done)
	defer conn.client.forget(conn)
	defer conn.setState(Closed)

	policy := conn.client.reconnect
	var retry *backoff.ExponentialBackOff
	if policy.Enabled {
		retry = policy.newBackOff()
	}
	failures := 0

	for {
		conn.setState(Connecting)
		s, err := conn.client.dial(conn.ctx, conn.pageID)
		if err == nil {
			conn.setState(Open)
			conn.logger.Info("update connection opened")
			failures = 0
			if retry != nil {
				retry.Reset()
			}
			err = conn.consume(s)
		}

		if conn.ctx.Err() != nil {
			conn.logger.Info("update connection now closed")
			return
		}
		var terminal *TerminalError
		if errors.As(err, &terminal) || retry == nil {
			conn.logger.Info("update connection now closed", "err", err)
			return
		}
		failures++
		if policy.MaxAttempts > 0 && failures > policy.MaxAttempts {
			conn.logger.Info("update connection now closed, giving up", "err", err, "attempts", failures)
			return
		}
		wait := retry.NextBackOff()
		conn.logger.Warn("update connection unhappy", "err", err, "retry_in", wait)
		select {
		case <-conn.ctx.Done():
			conn.logger.Info("update connection now closed")
			return
		case <-time.After(wait):
		}
	}
}

// consume applies messages until the stream ends. Each message is applied fully before the
// next one is read.
func (conn *Conn) consume(s stream) error {
	stop := context.AfterFunc(conn.ctx, func() { _ = s.Close() })
	defer func() {
		stop()
		_ = s.Close()
	}()
	for {
		data, err := s.Next()
		if err != nil {
			return err
		}
		if conn.ctx.Err() != nil {
			return conn.ctx.Err()
		}
		batch, err := update.DecodeBatch(data)
		if err != nil {
			conn.logger.Warn("update connection unhappy, dropping message", "err", err)
			continue
		}
		conn.client.applier.ApplyBatch(batch)
	}
}
