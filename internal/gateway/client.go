package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotConnected is returned by Call when no socket is open.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrConnectionLost rejects every pending request when the socket drops.
	// Requests are not retried; retry policy belongs to the caller.
	ErrConnectionLost = errors.New("gateway: connection lost")
)

// RequestError is a rejection from the gateway for a specific request.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return "gateway: request rejected: " + e.Message
}

// Config holds the connection parameters for a Client.
type Config struct {
	URL        string
	ClientID   string
	ClientName string
	Version    string
	Role       string
	Scopes     []string
	Token      string

	MinProtocol int
	MaxProtocol int

	// HandshakeTimeout bounds the wait between socket open and hello-ok.
	// A stalled handshake closes the socket and enters normal backoff.
	HandshakeTimeout time.Duration

	BackoffFloor  time.Duration
	BackoffCap    time.Duration
	BackoffFactor float64
}

const defaultHandshakeTimeout = 10 * time.Second

type callResult struct {
	payload map[string]any
	err     error
}

// Client maintains one logical connection to the telemetry gateway: it
// performs the challenge/connect handshake, multiplexes request/response
// pairs over the socket, delivers inbound events to subscribers in arrival
// order, and reconnects with exponential backoff.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	handlersMu     sync.RWMutex
	anyHandlers    []func(Event)
	kindHandlers   map[string][]func(Event)
	onConnected    []func(snapshot map[string]any)
	onClosed       []func(error)
	onReconnecting []func(delay time.Duration)

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       uint64 // connection generation, guards against stale teardowns
	reconnect bool
	bo        *backoff
	timer     *time.Timer
	nextID    uint64
	pending   map[string]chan callResult
	snapshot  map[string]any
	protocol  int

	writeMu sync.Mutex
}

// NewClient creates a client for the given gateway. It does not connect.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxProtocol <= 0 {
		cfg.MinProtocol, cfg.MaxProtocol = 1, 1
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		kindHandlers: make(map[string][]func(Event)),
		bo:           newBackoff(cfg.BackoffFloor, cfg.BackoffCap, cfg.BackoffFactor),
		pending:      make(map[string]chan callResult),
	}
}

// OnAnyEvent subscribes to every inbound event. Handlers run on the read
// loop in registration order; they must not block.
func (c *Client) OnAnyEvent(fn func(Event)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.anyHandlers = append(c.anyHandlers, fn)
}

// OnEvent subscribes to events with the given name.
func (c *Client) OnEvent(name string, fn func(Event)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.kindHandlers[name] = append(c.kindHandlers[name], fn)
}

// OnConnected subscribes to handshake completion. The negotiated snapshot
// (possibly nil) is passed through.
func (c *Client) OnConnected(fn func(snapshot map[string]any)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnected = append(c.onConnected, fn)
}

// OnDisconnected subscribes to connection loss. Not fired for a Disconnect
// requested by the caller before any socket existed.
func (c *Client) OnDisconnected(fn func(err error)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// OnReconnecting subscribes to reconnect scheduling. Fired once per armed
// retry timer with its backoff delay; never fired for a caller-requested
// Disconnect.
func (c *Client) OnReconnecting(fn func(delay time.Duration)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onReconnecting = append(c.onReconnecting, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the snapshot delivered with the last successful
// handshake, or nil.
func (c *Client) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Connect enables reconnection and starts a connect attempt. A synchronous
// dial failure is returned to the caller and also schedules a retry, the
// same as a socket error.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.reconnect = true
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	return c.dial()
}

// Disconnect closes the connection and disables reconnection until Connect
// is called again. All pending requests fail with ErrConnectionLost.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnect = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		// The read loop observes the close and runs the teardown path.
		_ = conn.Close()
	} else {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	}
}

func (c *Client) dial() error {
	c.logger.Debug("dialing gateway", zap.String("url", c.cfg.URL))

	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("gateway dial failed", zap.Error(err))
		c.mu.Lock()
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("gateway dial: %w", err)
	}

	c.mu.Lock()
	if !c.reconnect {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.state = StateHandshaking
	// Request ids are scoped to one connection; the table is rebuilt per
	// connection and cleared wholesale on disconnect.
	c.nextID = 0
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	time.AfterFunc(c.cfg.HandshakeTimeout, func() { c.expireHandshake(gen) })
	go c.readLoop(conn, gen)
	return nil
}

// expireHandshake closes the socket if the handshake for this connection
// generation has not completed in time.
func (c *Client) expireHandshake(gen uint64) {
	c.mu.Lock()
	stalled := c.gen == gen && c.state == StateHandshaking
	conn := c.conn
	c.mu.Unlock()
	if stalled && conn != nil {
		c.logger.Warn("handshake timed out, closing connection")
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(gen, err)
			return
		}

		env := decodeEnvelope(data)
		if env == nil {
			c.logger.Debug("dropping malformed frame", zap.Int("bytes", len(data)))
			continue
		}

		switch env.Type {
		case frameEvent:
			if env.Event == eventChallenge {
				go c.completeHandshake(gen, env.Payload)
				continue
			}
			c.dispatchEvent(Event{
				Name:         env.Event,
				Payload:      env.Payload,
				Seq:          env.Seq,
				StateVersion: env.StateVersion,
			})
		case frameResponse:
			c.resolve(env)
		}
	}
}

func (c *Client) dispatchEvent(evt Event) {
	c.handlersMu.RLock()
	any := c.anyHandlers
	kind := c.kindHandlers[evt.Name]
	c.handlersMu.RUnlock()
	for _, fn := range any {
		fn(evt)
	}
	for _, fn := range kind {
		fn(evt)
	}
}

// completeHandshake answers the challenge with a connect request and, on a
// hello-ok response, marks the connection established.
func (c *Client) completeHandshake(gen uint64, challenge map[string]any) {
	params := map[string]any{
		"minProtocolVersion": c.cfg.MinProtocol,
		"maxProtocolVersion": c.cfg.MaxProtocol,
		"client": map[string]any{
			"id":          c.cfg.ClientID,
			"displayName": c.cfg.ClientName,
			"version":     c.cfg.Version,
		},
		"role":   c.cfg.Role,
		"scopes": c.cfg.Scopes,
	}
	if nonce, ok := challenge["nonce"].(string); ok {
		params["nonce"] = nonce
	}
	if c.cfg.Token != "" {
		params["auth"] = map[string]any{"token": c.cfg.Token}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	payload, err := c.Call(ctx, methodConnect, params)
	if err != nil {
		// Auth rejection is fatal for this attempt but still reconnects:
		// rotated credentials may land between attempts. Repeated failures
		// show up in the logs for alerting.
		c.logger.Warn("gateway handshake rejected", zap.Error(err))
		c.closeGen(gen)
		return
	}
	if t, _ := payload["type"].(string); t != helloOK {
		c.logger.Warn("unexpected handshake response", zap.Any("payload", payload))
		c.closeGen(gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateHandshaking {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.bo.reset()
	if snap, ok := payload["snapshot"].(map[string]any); ok {
		c.snapshot = snap
	}
	if v, ok := payload["protocolVersion"].(float64); ok {
		c.protocol = int(v)
	}
	c.mu.Unlock()

	c.logger.Info("gateway connected",
		zap.String("url", c.cfg.URL),
		zap.Int("protocol", c.protocol),
	)

	c.handlersMu.RLock()
	subs := c.onConnected
	c.handlersMu.RUnlock()
	for _, fn := range subs {
		fn(c.Snapshot())
	}
}

func (c *Client) closeGen(gen uint64) {
	c.mu.Lock()
	conn := c.conn
	match := c.gen == gen
	c.mu.Unlock()
	if match && conn != nil {
		_ = conn.Close()
	}
}

// Call sends a request over the connection and waits for its correlated
// response. Request ids are a monotonic counter starting at 1, never reused
// within a connection.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	env := Envelope{Type: frameRequest, Method: method, Params: params, ID: id}
	if err := c.writeJSON(conn, env); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("gateway write: %w", err)
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve completes the pending request matching a response frame.
// Responses with no matching id are dropped.
func (c *Client) resolve(env *Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if env.Error != nil || (env.OK != nil && !*env.OK) {
		msg := "request failed"
		if env.Error != nil {
			msg = env.Error.Message
		}
		ch <- callResult{err: &RequestError{Message: msg}}
		return
	}
	ch <- callResult{payload: env.Payload}
}

// teardown runs once per connection generation when its socket closes, from
// the read loop. It fails every pending request, then schedules the next
// attempt if reconnection is enabled.
func (c *Client) teardown(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	orphaned := c.pending
	c.pending = make(map[string]chan callResult)
	c.snapshot = nil
	willReconnect := c.reconnect
	if willReconnect {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	for _, ch := range orphaned {
		ch <- callResult{err: ErrConnectionLost}
	}

	c.logger.Info("gateway disconnected",
		zap.Error(cause),
		zap.Bool("reconnecting", willReconnect),
	)

	c.handlersMu.RLock()
	subs := c.onClosed
	c.handlersMu.RUnlock()
	for _, fn := range subs {
		fn(cause)
	}
}

// notifyReconnecting runs off the lock; scheduleReconnectLocked holds c.mu.
func (c *Client) notifyReconnecting(delay time.Duration) {
	c.handlersMu.RLock()
	subs := c.onReconnecting
	c.handlersMu.RUnlock()
	for _, fn := range subs {
		fn(delay)
	}
}

// scheduleReconnectLocked arms the reconnect timer with the current backoff
// delay and grows the delay for the next cycle. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if !c.reconnect {
		return
	}
	delay := c.bo.next()
	c.logger.Debug("scheduling reconnect", zap.Duration("delay", delay))
	go c.notifyReconnecting(delay)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if !c.reconnect || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		_ = c.dial()
	})
}
