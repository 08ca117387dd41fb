// Package client keeps one logical live-position feed usable across
// unreliable connectivity. The reconnect loop is invisible to callers:
// transient transport failures retry with exponential backoff, and only an
// exhausted retry budget surfaces as a fatal error.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"uddhar.app/server"
)

// State is the client connection lifecycle
type State int32

const (
	// Idle means no transport and no pending retry
	Idle State = iota
	// Connecting means the initial dial is in flight
	Connecting
	// Open means the transport is live and identity has been sent
	Open
	// Reconnecting means a retry timer is pending after a transport failure
	Reconnecting
	// Failed is terminal, the retry budget is exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrReconnectExhausted is surfaced once to error handlers when the retry
// budget runs out. Connect must be called again explicitly to resume.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Options configures a client
type Options struct {
	// URL is the websocket feed endpoint, e.g. ws://host/presence
	URL string
	// UserID is the identity sent on every new connection
	UserID string
	// Latitude/Longitude seed the identity report
	Latitude  float64
	Longitude float64

	// BaseDelay is the first retry delay, doubled per attempt. Default 3s.
	BaseDelay time.Duration
	// MaxAttempts is the retry budget before Failed. Default 5.
	MaxAttempts int
	// HeartbeatInterval spaces keep-alive frames while Open. Default 30s.
	HeartbeatInterval time.Duration
}

type messageHandler struct {
	id int
	fn func(*server.Message)
}

type errorHandler struct {
	id int
	fn func(error)
}

// Client is a reconnecting feed connection. Single-flow: one transport and
// at most one pending retry timer at a time.
type Client struct {
	opts Options

	mtx        sync.Mutex
	state      State
	conn       *websocket.Conn
	attempt    int
	generation int
	retryTimer *time.Timer
	hbStop     chan bool

	lastLat float64
	lastLon float64

	nextID      int
	msgHandlers []messageHandler
	errHandlers []errorHandler

	// gorilla permits one concurrent writer
	wmtx sync.Mutex
}

// New creates a client in the Idle state
func New(opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 3 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Client{
		opts:    opts,
		lastLat: opts.Latitude,
		lastLon: opts.Longitude,
	}
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Connect dials the feed. It returns an error only if the initial attempt
// fails; failures after that retry silently and reach callers via OnError.
// Calling Connect while already connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mtx.Lock()
	switch c.state {
	case Connecting, Open, Reconnecting:
		c.mtx.Unlock()
		return nil
	}
	c.state = Connecting
	c.attempt = 0
	c.generation++
	gen := c.generation
	c.mtx.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.mtx.Lock()
		if gen == c.generation {
			c.state = Idle
		}
		c.mtx.Unlock()
		return err
	}

	c.open(gen, conn)
	return nil
}

// Disconnect closes the transport and settles in Idle. It synchronously
// cancels any pending retry timer, so no further connection attempts happen
// after it returns. Safe to call from any state, any number of times.
func (c *Client) Disconnect() {
	c.mtx.Lock()
	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.state = Idle
	c.mtx.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}

// Send writes a message if Open, otherwise logs a warning and drops it
func (c *Client) Send(m *server.Message) {
	c.mtx.Lock()
	conn := c.conn
	state := c.state
	c.mtx.Unlock()

	if state != Open || conn == nil {
		log.Printf("[client] not open (%s), dropped %s", state, m.Type)
		return
	}
	if err := c.write(conn, m); err != nil {
		log.Printf("[client] write %s: %v", m.Type, err)
	}
}

// Report sends a position report and remembers the coordinates so the next
// reconnect announces them as identity
func (c *Client) Report(lat, lon float64) {
	c.mtx.Lock()
	c.lastLat, c.lastLon = lat, lon
	c.mtx.Unlock()
	c.Send(server.NewReport(c.opts.UserID, lat, lon))
}

// OnMessage registers a handler for inbound frames. Handlers run in
// registration order; a panicking handler does not block the rest. Returns
// an id for OffMessage.
func (c *Client) OnMessage(fn func(*server.Message)) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.nextID++
	c.msgHandlers = append(c.msgHandlers, messageHandler{id: c.nextID, fn: fn})
	return c.nextID
}

// OffMessage removes a handler by id
func (c *Client) OffMessage(id int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for i, h := range c.msgHandlers {
		if h.id == id {
			c.msgHandlers = append(c.msgHandlers[:i], c.msgHandlers[i+1:]...)
			return
		}
	}
}

// OnError registers a handler for fatal errors (currently only
// ErrReconnectExhausted). Returns an id for OffError.
func (c *Client) OnError(fn func(error)) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.nextID++
	c.errHandlers = append(c.errHandlers, errorHandler{id: c.nextID, fn: fn})
	return c.nextID
}

// OffError removes an error handler by id
func (c *Client) OffError(id int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for i, h := range c.errHandlers {
		if h.id == id {
			c.errHandlers = append(c.errHandlers[:i], c.errHandlers[i+1:]...)
			return
		}
	}
}

// open installs a freshly dialed transport. If a Disconnect won the race the
// connection is discarded unused.
func (c *Client) open(gen int, conn *websocket.Conn) {
	c.mtx.Lock()
	if gen != c.generation {
		c.mtx.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = Open
	c.attempt = 0
	c.hbStop = make(chan bool)
	hbStop := c.hbStop
	lat, lon := c.lastLat, c.lastLon
	c.mtx.Unlock()

	log.Printf("[client] connected to %s as %s", c.opts.URL, c.opts.UserID)

	go c.readLoop(gen, conn)
	go c.heartbeatLoop(conn, hbStop)

	// identity is sent fresh on every open, never carried over
	if err := c.write(conn, server.NewReport(c.opts.UserID, lat, lon)); err != nil {
		log.Printf("[client] identity report: %v", err)
	}
}

func (c *Client) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.transportClosed(gen, err)
			return
		}
		m, err := server.Decode(raw)
		if err != nil {
			log.Printf("[client] bad frame: %v", err)
			continue
		}
		c.dispatch(m)
	}
}

// heartbeatLoop sends keep-alives while the transport is up. The stop
// channel is closed before a retry timer is armed or Disconnect returns, so
// the heartbeat ticker is never active alongside a retry timer.
func (c *Client) heartbeatLoop(conn *websocket.Conn, stop chan bool) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// an unacknowledged or failed heartbeat is not fatal
			if err := c.write(conn, server.NewHeartbeat()); err != nil {
				return
			}
		}
	}
}

// transportClosed handles an unexpected close. Stale generations are from
// connections already replaced or deliberately closed, and are discarded.
func (c *Client) transportClosed(gen int, err error) {
	c.mtx.Lock()
	if gen != c.generation {
		c.mtx.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	log.Printf("[client] transport closed: %v", err)
	c.scheduleRetryLocked(gen)
	c.mtx.Unlock()
}

// stopHeartbeatLocked releases the heartbeat loop. Caller holds mtx.
func (c *Client) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

// scheduleRetryLocked arms the backoff timer or gives up. Caller holds mtx.
func (c *Client) scheduleRetryLocked(gen int) {
	c.attempt++
	if c.attempt > c.opts.MaxAttempts {
		c.state = Failed
		c.retryTimer = nil
		log.Printf("[client] giving up after %d attempts", c.opts.MaxAttempts)
		go c.emitError(ErrReconnectExhausted)
		return
	}

	delay := c.opts.BaseDelay << (c.attempt - 1)
	c.state = Reconnecting
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(gen) })
	log.Printf("[client] retry %d/%d in %v", c.attempt, c.opts.MaxAttempts, delay)
}

func (c *Client) retry(gen int) {
	c.mtx.Lock()
	if gen != c.generation || c.state != Reconnecting {
		c.mtx.Unlock()
		return
	}
	c.retryTimer = nil
	c.mtx.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
	if err != nil {
		c.mtx.Lock()
		if gen == c.generation && c.state == Reconnecting {
			c.scheduleRetryLocked(gen)
		}
		c.mtx.Unlock()
		return
	}

	c.open(gen, conn)
}

func (c *Client) write(conn *websocket.Conn, m *server.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.wmtx.Lock()
	defer c.wmtx.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) dispatch(m *server.Message) {
	c.mtx.Lock()
	handlers := make([]messageHandler, len(c.msgHandlers))
	copy(handlers, c.msgHandlers)
	c.mtx.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[client] message handler panic: %v", r)
				}
			}()
			h.fn(m)
		}()
	}
}

func (c *Client) emitError(err error) {
	c.mtx.Lock()
	handlers := make([]errorHandler, len(c.errHandlers))
	copy(handlers, c.errHandlers)
	c.mtx.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[client] error handler panic: %v", r)
				}
			}()
			h.fn(err)
		}()
	}
}
