package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

// DefaultRequestTimeout bounds one relay round trip when the caller's
// context carries no earlier deadline.
const DefaultRequestTimeout = 60 * time.Second

// pendingRequest tracks one in-flight request awaiting its correlated
// response.
type pendingRequest struct {
	resolve chan *Envelope
	timer   *time.Timer
}

// Client is the contained-surface side of the relay.
type Client struct {
	serverURL string
	token     string
	hello     Hello
	log       *logging.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

// NewClient creates a relay client for the given server address
// (host:port). The hello identifies this surface to the server's result
// targeting.
func NewClient(addr, token string, hello Hello, log *logging.Logger) *Client {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/relay"}
	return &Client{
		serverURL: u.String(),
		token:     token,
		hello:     hello,
		log:       log,
		pending:   make(map[string]*pendingRequest),
	}
}

// Connect dials the relay, announces this surface, and starts the response
// dispatcher.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set(TokenHeader, c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.serverURL, header)
	if err != nil {
		return fmt.Errorf("relay dial failed: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	hello, err := NewEnvelope(TypeHello, "", c.hello)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := c.write(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("relay hello failed: %w", err)
	}

	go c.readLoop()
	return nil
}

// Close tears down the connection and rejects every in-flight request.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	for id, pend := range c.pending {
		pend.timer.Stop()
		close(pend.resolve)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Request sends an envelope and waits for the correlated response.
func (c *Client) Request(ctx context.Context, env *Envelope) (*Envelope, error) {
	timeout := DefaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	pend := &pendingRequest{resolve: make(chan *Envelope, 1)}
	pend.timer = time.AfterFunc(timeout, func() {
		c.reject(env.RequestID)
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pend.timer.Stop()
		return nil, fmt.Errorf("relay client closed")
	}
	c.pending[env.RequestID] = pend
	c.mu.Unlock()

	if err := c.write(env); err != nil {
		c.reject(env.RequestID)
		return nil, fmt.Errorf("relay send failed: %w", err)
	}

	select {
	case <-ctx.Done():
		c.reject(env.RequestID)
		return nil, ctx.Err()
	case resp, ok := <-pend.resolve:
		if !ok || resp == nil {
			return nil, fmt.Errorf("relay request %s timed out", env.RequestID)
		}
		return resp, nil
	}
}

// Ping round-trips an idempotent handshake message.
func (c *Client) Ping(ctx context.Context) error {
	env, err := NewEnvelope(TypePing, "", map[string]string{"status": "ping"})
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, env)
	if err != nil {
		return err
	}
	if resp.Type != TypePong {
		return fmt.Errorf("unexpected ping response type %s", resp.Type)
	}
	return nil
}

func (c *Client) write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("relay not connected")
	}
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.log.Debugf("relay read loop ended: %v", err)
			_ = c.Close()
			return
		}
		if !env.Recognized() {
			continue
		}
		c.resolve(&env)
	}
}

// resolve hands a response to its waiting request. Responses with no
// pending entry (late arrivals after timeout, duplicate replays) are
// dropped silently; the idempotent server makes them harmless.
func (c *Client) resolve(env *Envelope) {
	c.mu.Lock()
	pend, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("dropping uncorrelated %s response %s", env.Type, env.RequestID)
		return
	}
	pend.timer.Stop()
	pend.resolve <- env
}

// reject fails a pending request, waking the waiter with a closed channel.
func (c *Client) reject(requestID string) {
	c.mu.Lock()
	pend, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if ok {
		pend.timer.Stop()
		close(pend.resolve)
	}
}
