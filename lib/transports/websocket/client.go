package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/metrics"
)

var (
	// ErrNotConnected is returned by Send when Connect has not been called or
	// the connection has already been lost.
	ErrNotConnected = errors.New("websocket: not connected")

	// ErrClosed is returned by Connect after a deliberate Close. A closed
	// client is terminal; reconnecting needs a new client.
	ErrClosed = errors.New("websocket: client closed")
)

const (
	defaultPingInterval = 30 * time.Second
	defaultFrameBuffer  = 1000
	writeWait           = 10 * time.Second
)

// Client is a duplex websocket connection to one upstream relay. It owns
// connect and raw send/receive of framed messages, nothing more: reconnect
// timing and backoff are caller policy so the component stays testable in
// isolation. After a connection loss Connect may be called again; each
// connection gets a fresh frame channel.
type Client struct {
	url          string
	pingInterval time.Duration
	frameBuffer  int

	writeMu sync.Mutex // serializes writes between callers and the ping loop

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	err       error

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithPingInterval overrides the keepalive ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithFrameBuffer overrides the inbound frame channel capacity.
func WithFrameBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.frameBuffer = n
		}
	}
}

// NewClient creates a client for the given relay url. Connect must be called
// before Send.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		pingInterval: defaultPingInterval,
		frameBuffer:  defaultFrameBuffer,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.frames = make(chan []byte, c.frameBuffer)
	return c
}

// Connect dials the relay and starts the read and keepalive loops. The frame
// channel is closed when the connection is lost; Err reports why. After a
// loss Connect may be called again and allocates a fresh frame channel, so
// callers re-dialing must re-fetch Frames afterwards.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	})

	// Fresh channel per connection: the previous read loop closed the old one
	// when the last connection went down.
	c.frames = make(chan []byte, c.frameBuffer)
	c.err = nil
	c.conn = conn
	c.connected = true

	go c.readLoop(conn, c.frames)
	go c.pingLoop(conn)

	logging.Infof("Connected to relay %s", c.url)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, frames chan []byte) {
	defer close(frames)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("websocket: read: %w", err))
			return
		}
		metrics.FramesReceived.Inc()

		select {
		case frames <- message:
		case <-c.done:
			return
		default:
			// Frame channel full. Dropping is preferable to stalling the
			// read loop and timing out the whole connection.
			logging.Warnf("Frame buffer full, dropping frame from %s", c.url)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	select {
	case <-c.done:
		// deliberate Close, keep err nil
	default:
		c.err = err
		logging.Errorf("Relay connection lost: %v", err)
	}
}

// Send marshals msg as JSON and writes it as a single text frame. msg is any
// of the nostr envelope types.
func (c *Client) Send(ctx context.Context, msg interface{}) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

// Frames returns the current connection's inbound frame channel. It is
// closed when the connection is lost or Close is called; a reconnect via
// Connect replaces it.
func (c *Client) Frames() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns the terminal error that took the connection down, or nil after
// a deliberate Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.connected = false
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}
