// Package transport owns the websocket connection: dialing, the read and
// heartbeat loops, liveness detection, and the authentication handshake.
// It reports connection loss and never reconnects on its own; supervision
// belongs to the manager.
package transport

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/marketwire/errs"
)

// State is the connection lifecycle state.
type State int32

const (
	// StateDisconnected means no connection exists.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the socket is up but not yet authenticated.
	StateConnected
	// StateAuthenticated means the session token was accepted.
	StateAuthenticated
	// StateReconnecting means the supervisor is re-establishing the session.
	StateReconnecting
	// StateFailed means reconnection attempts are exhausted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultAuthTimeout  = 10 * time.Second
	defaultPingInterval = 15 * time.Second
	defaultStaleAfter   = 30 * time.Second
	defaultPendingLimit = 64
	maxFrameSize        = 1 << 20
)

// Config tunes one connection.
type Config struct {
	// URL is the websocket endpoint.
	URL string
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
	// AuthTimeout bounds the authentication handshake.
	AuthTimeout time.Duration
	// PingInterval is how often an application ping is sent on an idle link.
	PingInterval time.Duration
	// StaleAfter declares the connection lost when nothing arrives for this long.
	StaleAfter time.Duration
	// PendingLimit bounds frames queued while disconnected; oldest drop first.
	PendingLimit int
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = defaultPendingLimit
	}
}

type authResult struct {
	success bool
	errMsg  string
}

// Conn is one websocket session.
type Conn struct {
	cfg       Config
	log       logrus.FieldLogger
	onMessage func([]byte)
	onLoss    func(error)

	state    atomic.Int32
	lastSeen atomic.Int64

	mu         sync.Mutex
	ws         *websocket.Conn
	connCancel context.CancelFunc
	lossOnce   *sync.Once
	pending    [][]byte
	authWait   map[string]chan authResult

	wg sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewConn creates a connection. onMessage receives every inbound frame except
// intercepted auth responses; onLoss fires at most once per session when the
// link drops or goes stale.
func NewConn(cfg Config, onMessage func([]byte), onLoss func(error), log logrus.FieldLogger) *Conn {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Conn{
		cfg:        cfg,
		log:        log.WithField("component", "transport"),
		onMessage:  onMessage,
		onLoss:     onLoss,
		state:      atomic.Int32{},
		lastSeen:   atomic.Int64{},
		mu:         sync.Mutex{},
		ws:         nil,
		connCancel: nil,
		lossOnce:   &sync.Once{},
		pending:    nil,
		authWait:   make(map[string]chan authResult),
		wg:         sync.WaitGroup{},
		newID:      uuid.NewString,
		now:        time.Now,
	}
	return c
}

// State reports the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// LastSeen reports when the connection last received any frame.
func (c *Conn) LastSeen() time.Time {
	nanos := c.lastSeen.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// SetState overrides the connection state. The supervisor uses this to mark
// reconnecting and failed, states the connection cannot reach on its own.
func (c *Conn) SetState(s State) {
	c.state.Store(int32(s))
}

// Dial establishes the websocket session and starts the read and heartbeat
// loops. It does not authenticate; call Authenticate once connected.
func (c *Conn) Dial(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return errs.New("transport", errs.CodeNetwork,
			errs.WithMessage("dial "+c.cfg.URL),
			errs.WithCause(err))
	}
	ws.SetReadLimit(maxFrameSize)

	connCtx, connCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.ws = ws
	c.connCancel = connCancel
	c.lossOnce = &sync.Once{}
	c.mu.Unlock()

	c.lastSeen.Store(c.now().UnixNano())
	c.state.Store(int32(StateConnected))

	c.wg.Add(2)
	go c.readLoop(connCtx, ws)
	go c.heartbeatLoop(connCtx, ws)

	return nil
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.reportLoss(errs.New("transport", errs.CodeNetwork,
				errs.WithMessage("read failed"),
				errs.WithCause(err)))
			return
		}
		c.lastSeen.Store(c.now().UnixNano())
		if c.interceptAuth(data) {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := c.now().Sub(time.Unix(0, c.lastSeen.Load()))
			if idle > c.cfg.StaleAfter {
				c.reportLoss(errs.New("transport", errs.CodeNetwork,
					errs.WithMessage("connection stale, no traffic for "+idle.Truncate(time.Second).String())))
				return
			}
			ping, err := json.Marshal(map[string]any{"method": "ping", "req_id": c.newID()})
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err = ws.Write(writeCtx, websocket.MessageText, ping)
			cancel()
			if err != nil {
				c.reportLoss(errs.New("transport", errs.CodeNetwork,
					errs.WithMessage("ping failed"),
					errs.WithCause(err)))
				return
			}
		}
	}
}

// reportLoss tears the session down and notifies the supervisor exactly once.
func (c *Conn) reportLoss(err error) {
	c.mu.Lock()
	once := c.lossOnce
	c.mu.Unlock()
	once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		c.teardown()
		c.log.WithError(err).Warn("connection lost")
		if c.onLoss != nil {
			c.onLoss(err)
		}
	})
}

func (c *Conn) teardown() {
	c.mu.Lock()
	ws := c.ws
	cancel := c.connCancel
	c.ws = nil
	c.connCancel = nil
	for reqID, waiter := range c.authWait {
		delete(c.authWait, reqID)
		waiter <- authResult{success: false, errMsg: "connection closed"}
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "closing")
	}
}

// Send writes one frame. While disconnected the frame is queued in a bounded
// buffer, oldest dropped first, and flushed by the supervisor after the
// session is re-established.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil || c.State() < StateConnected {
		c.enqueue(payload)
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return errs.New("transport", errs.CodeNetwork,
			errs.WithMessage("write failed"),
			errs.WithCause(err))
	}
	return nil
}

func (c *Conn) enqueue(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.cfg.PendingLimit {
		dropped := len(c.pending) - c.cfg.PendingLimit + 1
		c.pending = c.pending[dropped:]
		c.log.WithField("dropped", dropped).Warn("pending buffer full, dropping oldest frames")
	}
	c.pending = append(c.pending, buf)
}

// PendingLen reports how many frames await flushing.
func (c *Conn) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FlushPending writes queued frames in FIFO order over the live session.
func (c *Conn) FlushPending(ctx context.Context) error {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for i, payload := range queued {
		if err := c.Send(ctx, payload); err != nil {
			// Put the unsent remainder back at the front of the queue.
			c.mu.Lock()
			c.pending = append(queued[i:], c.pending...)
			c.mu.Unlock()
			return err
		}
	}
	return nil
}

// Authenticate runs the token handshake and blocks for the venue verdict.
func (c *Conn) Authenticate(ctx context.Context, token string) error {
	if c.State() < StateConnected {
		return errs.New("transport", errs.CodeNetwork,
			errs.WithMessage("cannot authenticate while disconnected"))
	}

	reqID := c.newID()
	waiter := make(chan authResult, 1)
	c.mu.Lock()
	c.authWait[reqID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.authWait, reqID)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(map[string]any{
		"method": "auth",
		"params": map[string]any{"token": token},
		"req_id": reqID,
	})
	if err != nil {
		return errs.New("transport", errs.CodeInvalid, errs.WithCause(err))
	}
	if err := c.Send(ctx, frame); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.AuthTimeout)
	defer timer.Stop()
	select {
	case result := <-waiter:
		if !result.success {
			return errs.New("transport", errs.CodeAuth,
				errs.WithReqID(reqID),
				errs.WithRawMessage(result.errMsg),
				errs.WithMessage("authentication rejected"))
		}
		c.state.Store(int32(StateAuthenticated))
		return nil
	case <-ctx.Done():
		return errs.New("transport", errs.CodeShutdown,
			errs.WithReqID(reqID), errs.WithCause(ctx.Err()))
	case <-timer.C:
		return errs.New("transport", errs.CodeAuth,
			errs.WithReqID(reqID),
			errs.WithMessage("authentication timed out"))
	}
}

// interceptAuth claims auth responses for waiting handshakes so they never
// reach the general dispatch path.
func (c *Conn) interceptAuth(data []byte) bool {
	var probe struct {
		Method  string          `json:"method"`
		ReqID   json.RawMessage `json:"req_id"`
		Success *bool           `json:"success"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Method != "auth" {
		return false
	}
	reqID := normalizeReqID(probe.ReqID)

	c.mu.Lock()
	waiter, ok := c.authWait[reqID]
	if ok {
		delete(c.authWait, reqID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.WithField("req_id", reqID).Warn("auth response with no matching handshake")
		return true
	}
	waiter <- authResult{
		success: probe.Success != nil && *probe.Success,
		errMsg:  strings.TrimSpace(probe.Error),
	}
	return true
}

func normalizeReqID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}

// Disconnect closes the session deliberately. No loss callback fires.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	once := c.lossOnce
	c.mu.Unlock()
	once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		c.teardown()
	})
	c.wg.Wait()
}
