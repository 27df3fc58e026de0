// Package manager composes the transports, codec, sequence tracker,
// subscription registry, order gateway, and authenticator into one client
// façade. It owns the session lifecycle: connect, authenticate, dispatch,
// reconnect with backoff, and graceful shutdown.
package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketwire/errs"
	"github.com/coachpo/marketwire/internal/auth"
	"github.com/coachpo/marketwire/internal/codec"
	"github.com/coachpo/marketwire/internal/orders"
	"github.com/coachpo/marketwire/internal/schema"
	"github.com/coachpo/marketwire/internal/sequence"
	"github.com/coachpo/marketwire/internal/subs"
	"github.com/coachpo/marketwire/internal/transport"
)

const (
	defaultQueueSize      = 1024
	defaultWorkerQueue    = 256
	defaultSweepInterval  = time.Second
	defaultHandlerTimeout = 5 * time.Second
)

// Event is one normalized occurrence delivered to handlers.
type Event struct {
	Type      schema.EventType
	Channel   string
	Sequence  uint64
	Timestamp time.Time
	Payload   any
	Raw       []byte
}

// Handler consumes events for one event type. Handlers for the same channel
// run serially in arrival order; distinct channels dispatch concurrently.
type Handler func(Event)

// ReconnectConfig tunes the reconnection supervisors. Each connection is
// supervised independently with its own backoff schedule.
type ReconnectConfig struct {
	// MaxAttempts bounds consecutive failed attempts before the connection is
	// declared failed. Zero means retry forever.
	MaxAttempts int
	// BaseDelay is the first retry delay.
	BaseDelay time.Duration
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// Growth is the delay multiplier between attempts.
	Growth float64
}

func (c *ReconnectConfig) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Growth <= 1 {
		c.Growth = 2
	}
}

// Config assembles the manager.
type Config struct {
	// Transport tunes the public connection.
	Transport transport.Config
	// PrivateURL is the endpoint for the authenticated connection. Empty
	// means the public endpoint also serves the private session. The private
	// connection inherits every other transport setting.
	PrivateURL    string
	Reconnect     ReconnectConfig
	Subscriptions subs.Config
	Orders        orders.Config
	Sequence      []sequence.Option
	// QueueSize bounds the inbound frame queue.
	QueueSize int
	// WorkerQueue bounds each per-channel dispatch queue.
	WorkerQueue int
	// SweepInterval is how often expired sequence buffers are evicted.
	SweepInterval time.Duration
	// HandlerTimeout bounds each handler invocation; a handler exceeding it
	// is reported and left to finish in the background.
	HandlerTimeout time.Duration
}

// Status is a point-in-time snapshot of the client.
type Status struct {
	// Public is the market-data connection state.
	Public transport.State
	// Private is the authenticated connection state. Disconnected when the
	// client runs without credentials.
	Private        transport.State
	ActiveSubs     int
	PendingOrders  int
	ActiveOrders   int
	AuthDegraded   bool
	Uptime         time.Duration
	Reconnects     uint64
	FramesReceived uint64
	LastMessageAge time.Duration
	Sequence       sequence.Stats
}

// Manager is the client façade. It owns two connections: the public one
// carries market data and is mandatory, the private one carries executions,
// balances, and order operations and exists only when credentials are
// configured. Either connection can drop and recover without the other.
type Manager struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *managerMetrics

	public   *transport.Conn
	private  *transport.Conn
	auth     *auth.Authenticator
	registry *subs.Registry
	gateway  *orders.Gateway
	tracker  *sequence.Tracker

	handlersMu sync.RWMutex
	handlers   map[schema.EventType][]Handler
	onError    func(error)

	inbound       chan []byte
	publicLossCh  chan error
	privateLossCh chan error

	workersMu sync.Mutex
	workers   map[string]chan Event

	reconnects atomic.Uint64
	frames     atomic.Uint64

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	runCtx    context.Context
	runStop   context.CancelFunc

	wg conc.WaitGroup
}

// senderFunc adapts a function to the orders.Sender interface.
type senderFunc func(ctx context.Context, payload []byte) error

func (f senderFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// New assembles a manager. authenticator may be nil for a public-only client;
// the private connection and order operations then stay unavailable.
func New(cfg Config, authenticator *auth.Authenticator, log logrus.FieldLogger) *Manager {
	cfg.Reconnect.applyDefaults()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WorkerQueue <= 0 {
		cfg.WorkerQueue = defaultWorkerQueue
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Manager{
		cfg:           cfg,
		log:           log.WithField("component", "manager"),
		metrics:       newManagerMetrics(),
		public:        nil,
		private:       nil,
		auth:          authenticator,
		registry:      subs.NewRegistry(cfg.Subscriptions),
		gateway:       nil,
		tracker:       sequence.New(cfg.Sequence...),
		handlersMu:    sync.RWMutex{},
		handlers:      make(map[schema.EventType][]Handler),
		onError:       nil,
		inbound:       make(chan []byte, cfg.QueueSize),
		publicLossCh:  make(chan error, 1),
		privateLossCh: make(chan error, 1),
		workersMu:     sync.Mutex{},
		workers:       make(map[string]chan Event),
		reconnects:    atomic.Uint64{},
		frames:        atomic.Uint64{},
		mu:            sync.Mutex{},
		running:       false,
		startedAt:     time.Time{},
		runCtx:        nil,
		runStop:       nil,
		wg:            conc.WaitGroup{},
	}
	m.public = transport.NewConn(cfg.Transport, m.enqueueFrame,
		func(err error) { m.signalLoss(m.publicLossCh, err) }, log)
	if authenticator != nil {
		privCfg := cfg.Transport
		if cfg.PrivateURL != "" {
			privCfg.URL = cfg.PrivateURL
		}
		m.private = transport.NewConn(privCfg, m.enqueueFrame,
			func(err error) { m.signalLoss(m.privateLossCh, err) }, log)
	}

	ordersCfg := cfg.Orders
	userUpdate := ordersCfg.OnUpdate
	ordersCfg.OnUpdate = func(record schema.OrderRecord) {
		m.metrics.addOrderUpdate(record)
		m.dispatch(Event{
			Type:      schema.EventTypeOrderUpdate,
			Channel:   schema.ChannelExecutions,
			Sequence:  0,
			Timestamp: record.UpdatedAt,
			Payload:   record,
			Raw:       nil,
		})
		if userUpdate != nil {
			userUpdate(record)
		}
	}
	var sender orders.Sender
	if m.private != nil {
		sender = m.private
	} else {
		sender = senderFunc(func(context.Context, []byte) error {
			return errs.New("orders", errs.CodeAuth,
				errs.WithMessage("order operations require credentials"))
		})
	}
	m.gateway = orders.NewGateway(sender, ordersCfg, log)
	return m
}

// RegisterHandler adds a handler for one event type. Registration is allowed
// at any time, including after Start.
func (m *Manager) RegisterHandler(eventType schema.EventType, handler Handler) {
	if handler == nil {
		return
	}
	m.handlersMu.Lock()
	m.handlers[eventType] = append(m.handlers[eventType], handler)
	m.handlersMu.Unlock()
}

// OnError registers the error callback. Errors are reported, never thrown:
// decode failures, rejected subscriptions, lost connections, and terminal
// reconnect exhaustion all land here.
func (m *Manager) OnError(callback func(error)) {
	m.handlersMu.Lock()
	m.onError = callback
	m.handlersMu.Unlock()
}

func (m *Manager) reportError(err error) {
	if err == nil {
		return
	}
	m.metrics.addError(string(errs.CodeOf(err)), "")
	m.handlersMu.RLock()
	callback := m.onError
	m.handlersMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Start establishes the sessions and launches the processing loops. A failure
// on the public connection is returned; a failure on the private connection
// degrades the client and is retried by its supervisor. Start may be called
// again after Stop or after reconnection was exhausted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errs.New("manager", errs.CodeInvalid,
			errs.WithMessage("client already running"))
	}
	runCtx, runStop := context.WithCancel(context.Background())
	m.running = true
	m.runCtx = runCtx
	m.runStop = runStop
	m.mu.Unlock()

	// Workers from a previous session exited with its context; dispatch must
	// not route into their dead queues.
	m.workersMu.Lock()
	m.workers = make(map[string]chan Event)
	m.workersMu.Unlock()
	m.gateway.Reopen()

	if err := m.establishPublic(ctx); err != nil {
		runStop()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	if err := m.establishPrivate(ctx); err != nil {
		// Degraded mode: public data flows while the private session is
		// down; the supervisor keeps retrying it.
		m.log.WithError(err).Warn("private session unavailable, continuing public-only")
		m.reportError(err)
		m.signalLoss(m.privateLossCh, err)
	}

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.wg.Go(func() { m.processLoop(runCtx) })
	m.wg.Go(func() { m.supervisorLoop(runCtx) })
	m.wg.Go(func() { m.sweepLoop(runCtx) })
	if m.auth != nil {
		m.wg.Go(func() { m.auth.Run(runCtx) })
	}
	return nil
}

// establishPublic dials the market-data endpoint, resets sequence state for
// the public channels, and replays the public subscriptions. Sequence numbers
// restart with every new session, so stale per-channel state must never
// survive a reconnect.
func (m *Manager) establishPublic(ctx context.Context) error {
	if err := m.public.Dial(ctx); err != nil {
		return err
	}
	m.resetSequences(false)
	if err := m.registry.Replay(ctx, false, func(sub subs.Subscription) error {
		return m.sendSubscription(ctx, sub)
	}); err != nil {
		m.reportError(err)
	}
	if err := m.public.FlushPending(ctx); err != nil {
		m.reportError(err)
	}
	return nil
}

// establishPrivate dials the authenticated endpoint, runs the token
// handshake, and replays the private subscriptions. A nil private connection
// means the client runs without credentials.
func (m *Manager) establishPrivate(ctx context.Context) error {
	if m.private == nil {
		return nil
	}
	if err := m.private.Dial(ctx); err != nil {
		return err
	}
	if err := m.authenticate(ctx); err != nil {
		return err
	}
	m.resetSequences(true)
	if err := m.registry.Replay(ctx, true, func(sub subs.Subscription) error {
		return m.sendSubscription(ctx, sub)
	}); err != nil {
		m.reportError(err)
	}
	if err := m.private.FlushPending(ctx); err != nil {
		m.reportError(err)
	}
	return nil
}

// resetSequences forgets sequence state for the channels carried by one
// connection. The other connection's channels keep their session state.
func (m *Manager) resetSequences(private bool) {
	for _, sub := range m.registry.Snapshot() {
		if sub.Private == private {
			m.tracker.Reset(sub.Channel)
		}
	}
	if private {
		m.tracker.Reset(schema.ChannelExecutions)
		m.tracker.Reset(schema.ChannelBalances)
	} else {
		m.tracker.Reset(schema.ChannelStatus)
	}
}

func (m *Manager) authenticate(ctx context.Context) error {
	token, err := m.auth.Token(ctx)
	if err != nil {
		return err
	}
	if err := m.private.Authenticate(ctx, token); err == nil {
		return nil
	}
	// The venue may reject a token the client still believed valid; one
	// forced renewal covers that window.
	fresh, err := m.auth.ForceRefresh(ctx)
	if err != nil {
		return err
	}
	return m.private.Authenticate(ctx, fresh.Value)
}

// SubscribeChannel registers and requests a channel subscription. Private
// channels require a configured authenticator and ride the private
// connection.
func (m *Manager) SubscribeChannel(ctx context.Context, channel string, params subs.Params) error {
	private := schema.PrivateChannel(channel)
	if private && m.auth == nil {
		return errs.New("manager", errs.CodeAuth,
			errs.WithChannel(channel),
			errs.WithMessage("private channel requires credentials"))
	}
	if err := m.registry.Subscribe(channel, params, private); err != nil {
		return err
	}
	return m.sendSubscription(ctx, subs.Subscription{
		Channel:      channel,
		Params:       params,
		Private:      private,
		RegisteredAt: time.Time{},
		Active:       false,
		LastError:    "",
	})
}

// UnsubscribeChannel drops the subscription and tells the venue.
func (m *Manager) UnsubscribeChannel(ctx context.Context, channel string) error {
	if !m.registry.Unsubscribe(channel) {
		return errs.New("manager", errs.CodeInvalid,
			errs.WithChannel(channel),
			errs.WithMessage("not subscribed"))
	}
	frame, err := json.Marshal(map[string]any{
		"method": codec.MethodUnsubscribe,
		"params": map[string]any{"channel": channel},
		"req_id": uuid.NewString(),
	})
	if err != nil {
		return errs.New("manager", errs.CodeInvalid, errs.WithCause(err))
	}
	return m.connFor(schema.PrivateChannel(channel)).Send(ctx, frame)
}

// connFor routes a frame to the connection carrying the channel's traffic.
func (m *Manager) connFor(private bool) *transport.Conn {
	if private && m.private != nil {
		return m.private
	}
	return m.public
}

func (m *Manager) sendSubscription(ctx context.Context, sub subs.Subscription) error {
	params := map[string]any{"channel": sub.Channel}
	if len(sub.Params.Symbols) > 0 {
		params["symbol"] = sub.Params.Symbols
	}
	if sub.Params.Depth > 0 {
		params["depth"] = sub.Params.Depth
	}
	if sub.Params.Interval > 0 {
		params["interval"] = sub.Params.Interval
	}
	if sub.Params.Snapshot != nil {
		params["snapshot"] = *sub.Params.Snapshot
	}
	if sub.Private {
		token, err := m.auth.Token(ctx)
		if err != nil {
			return err
		}
		params["token"] = token
	}
	frame, err := json.Marshal(map[string]any{
		"method": codec.MethodSubscribe,
		"params": params,
		"req_id": uuid.NewString(),
	})
	if err != nil {
		return errs.New("manager", errs.CodeInvalid, errs.WithCause(err))
	}
	return m.connFor(sub.Private).Send(ctx, frame)
}

// AddOrder submits an order through the gateway.
func (m *Manager) AddOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if m.private == nil {
		return "", errs.New("manager", errs.CodeAuth,
			errs.WithMessage("order operations require credentials"))
	}
	return m.gateway.AddOrder(ctx, req)
}

// CancelOrder cancels one order by its venue-assigned id.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	if m.private == nil {
		return errs.New("manager", errs.CodeAuth,
			errs.WithMessage("order operations require credentials"))
	}
	return m.gateway.CancelOrder(ctx, orderID)
}

// CancelOrderByUserRef cancels one order by the client-assigned reference.
func (m *Manager) CancelOrderByUserRef(ctx context.Context, userRef string) error {
	if m.private == nil {
		return errs.New("manager", errs.CodeAuth,
			errs.WithMessage("order operations require credentials"))
	}
	return m.gateway.CancelOrderByUserRef(ctx, userRef)
}

// CancelAllOrders cancels open orders, optionally restricted to one symbol.
func (m *Manager) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	if m.private == nil {
		return 0, errs.New("manager", errs.CodeAuth,
			errs.WithMessage("order operations require credentials"))
	}
	return m.gateway.CancelAll(ctx, symbol)
}

// Order looks up tracked order state.
func (m *Manager) Order(orderID string) (schema.OrderRecord, bool) {
	return m.gateway.Order(orderID)
}

// Status reports a snapshot of connection, subscription, and order state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	startedAt := m.startedAt
	m.mu.Unlock()

	degraded := false
	if m.auth != nil {
		degraded = m.auth.Degraded()
	}
	uptime := time.Duration(0)
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	privateState := transport.StateDisconnected
	lastSeen := m.public.LastSeen()
	if m.private != nil {
		privateState = m.private.State()
		if seen := m.private.LastSeen(); seen.After(lastSeen) {
			lastSeen = seen
		}
	}
	lastMessageAge := time.Duration(0)
	if !lastSeen.IsZero() {
		lastMessageAge = time.Since(lastSeen)
	}

	return Status{
		Public:         m.public.State(),
		Private:        privateState,
		ActiveSubs:     m.registry.ActiveCount(),
		PendingOrders:  m.gateway.PendingCount(),
		ActiveOrders:   len(m.gateway.ActiveOrders()),
		AuthDegraded:   degraded,
		Uptime:         uptime,
		Reconnects:     m.reconnects.Load(),
		FramesReceived: m.frames.Load(),
		LastMessageAge: lastMessageAge,
		Sequence:       m.tracker.Stats(),
	}
}

// enqueueFrame is the transport inbound callback, shared by both connections.
// The queue is bounded; when the consumer falls behind, new frames are
// dropped and counted rather than blocking the read loops.
func (m *Manager) enqueueFrame(raw []byte) {
	select {
	case m.inbound <- raw:
	default:
		m.metrics.add(m.metrics.dispatchDrops, "")
		m.log.Warn("inbound queue full, dropping frame")
	}
}

// signalLoss is the transport loss callback. Non-blocking: a second loss on
// the same connection while one is being handled carries no extra
// information.
func (m *Manager) signalLoss(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func (m *Manager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-m.inbound:
			m.handleFrame(raw)
		}
	}
}

func (m *Manager) handleFrame(raw []byte) {
	m.frames.Add(1)
	m.metrics.add(m.metrics.framesReceived, "")
	env, err := codec.Decode(raw)
	if err != nil {
		m.metrics.add(m.metrics.decodeErrors, "")
		m.reportError(err)
		return
	}

	if env.IsControl() {
		m.handleControl(env)
		return
	}

	if env.HasSequence {
		duplicate, ready := m.tracker.Process(env.Channel, env.Sequence, env)
		if duplicate {
			m.metrics.add(m.metrics.duplicates, env.Channel)
			return
		}
		for _, item := range ready {
			m.deliver(item.(*codec.Envelope))
		}
		return
	}
	m.deliver(env)
}

func (m *Manager) handleControl(env *codec.Envelope) {
	switch env.Method {
	case codec.MethodSubscribe:
		if env.Event == schema.EventTypeSubscriptionError {
			m.registry.MarkRejected(env.Channel, env.ErrorMsg)
			m.reportError(errs.New("manager", errs.CodeSubscriptionRejected,
				errs.WithChannel(env.Channel),
				errs.WithReqID(env.ReqID),
				errs.WithRawMessage(env.ErrorMsg)))
		} else {
			m.registry.MarkActive(env.Channel)
		}
		m.dispatch(Event{
			Type:      env.Event,
			Channel:   env.Channel,
			Sequence:  0,
			Timestamp: env.Timestamp,
			Payload:   nil,
			Raw:       env.Raw,
		})
	case codec.MethodUnsubscribe:
		// The registry entry is already gone; nothing to update.
	case codec.MethodAddOrder, codec.MethodCancelOrder, codec.MethodCancelAll, codec.MethodEditOrder:
		m.gateway.ProcessResponse(env)
	case codec.MethodPing, codec.MethodPong:
		// Liveness is tracked by the transport.
	default:
		m.log.WithField("method", env.Method).Debug("unhandled control method")
	}
}

// deliver routes one data frame. Executions feed the order gateway, which in
// turn emits order updates; heartbeats are liveness-only and never reach
// handlers; everything else goes straight to dispatch.
func (m *Manager) deliver(env *codec.Envelope) {
	if env.Event == schema.EventTypeHeartbeat {
		return
	}
	if env.Event == schema.EventTypeOrderUpdate {
		for _, payload := range env.Payloads {
			if exec, ok := payload.(schema.ExecutionPayload); ok {
				m.gateway.ProcessExecution(exec)
			}
		}
		return
	}

	if len(env.Payloads) == 0 {
		m.dispatch(Event{
			Type:      env.Event,
			Channel:   env.Channel,
			Sequence:  env.Sequence,
			Timestamp: env.Timestamp,
			Payload:   nil,
			Raw:       env.Raw,
		})
		return
	}
	for _, payload := range env.Payloads {
		m.dispatch(Event{
			Type:      env.Event,
			Channel:   env.Channel,
			Sequence:  env.Sequence,
			Timestamp: env.Timestamp,
			Payload:   payload,
			Raw:       env.Raw,
		})
	}
}

// dispatch hands the event to the per-channel worker. Each channel has one
// worker goroutine, so handlers observe per-channel arrival order; a slow
// handler on one channel never stalls another.
func (m *Manager) dispatch(event Event) {
	key := event.Channel
	if key == "" {
		key = string(event.Type)
	}
	worker := m.workerFor(key)
	select {
	case worker <- event:
		m.metrics.add(m.metrics.eventsDelivered, event.Channel)
	default:
		m.metrics.add(m.metrics.dispatchDrops, event.Channel)
		m.log.WithField("channel", key).Warn("dispatch queue full, dropping event")
	}
}

func (m *Manager) runContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx == nil {
		return context.Background()
	}
	return m.runCtx
}

func (m *Manager) workerFor(key string) chan Event {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()
	if worker, ok := m.workers[key]; ok {
		return worker
	}
	worker := make(chan Event, m.cfg.WorkerQueue)
	m.workers[key] = worker
	ctx := m.runContext()
	m.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-worker:
				m.invoke(event)
			}
		}
	})
	return worker
}

// invoke runs every registered handler for the event. A panicking handler is
// isolated and reported; one exceeding the handler timeout is reported and
// left to finish in the background so the channel keeps draining.
func (m *Manager) invoke(event Event) {
	m.handlersMu.RLock()
	handlers := m.handlers[event.Type]
	m.handlersMu.RUnlock()
	for _, handler := range handlers {
		m.invokeOne(event, handler)
	}
}

func (m *Manager) invokeOne(event Event, handler Handler) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.reportError(errs.New("manager", errs.CodeInvalid,
					errs.WithChannel(event.Channel),
					errs.WithMessage("handler panicked"),
					errs.WithRawMessage(panicString(r))))
			}
		}()
		handler(event)
	}()

	timer := time.NewTimer(m.cfg.HandlerTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.log.WithFields(logrus.Fields{
			"channel": event.Channel,
			"type":    string(event.Type),
		}).Warn("handler exceeded timeout, abandoning wait")
		m.reportError(errs.New("manager", errs.CodeInvalid,
			errs.WithChannel(event.Channel),
			errs.WithMessage("handler exceeded timeout")))
	}
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tracker.Sweep()
		}
	}
}

// supervisorLoop reacts to connection loss with exponential backoff, each
// connection on its own schedule. Exhausting the public retries is terminal;
// exhausting the private retries leaves the client running public-only.
func (m *Manager) supervisorLoop(ctx context.Context) {
	publicBo := newReconnectBackoff(m.cfg.Reconnect)
	privateBo := newReconnectBackoff(m.cfg.Reconnect)
	for {
		select {
		case <-ctx.Done():
			return
		case cause := <-m.publicLossCh:
			m.reportError(cause)
			m.public.SetState(transport.StateReconnecting)
			if m.reconnect(ctx, m.public, publicBo, m.establishPublic, m.publicLossCh) {
				publicBo.Reset()
				continue
			}
			m.public.SetState(transport.StateFailed)
			m.reportError(errs.New("manager", errs.CodeNetwork,
				errs.WithMessage("reconnect attempts exhausted, session failed")))
			m.releaseAfterFailure()
			return
		case cause := <-m.privateLossCh:
			m.reportError(cause)
			m.private.SetState(transport.StateReconnecting)
			if m.reconnect(ctx, m.private, privateBo, m.establishPrivate, m.privateLossCh) {
				privateBo.Reset()
				continue
			}
			m.private.SetState(transport.StateFailed)
			m.reportError(errs.New("manager", errs.CodeAuth,
				errs.WithMessage("private reconnect attempts exhausted, continuing public-only")))
		}
	}
}

// releaseAfterFailure clears the running state after the public connection's
// retries are exhausted, so a later explicit Start can bring the client back.
// The private connection and in-flight orders do not outlive the session.
func (m *Manager) releaseAfterFailure() {
	m.mu.Lock()
	runStop := m.runStop
	m.running = false
	m.mu.Unlock()
	if runStop != nil {
		runStop()
	}
	m.gateway.Shutdown()
	if m.private != nil {
		m.private.Disconnect()
	}
}

func (m *Manager) reconnect(ctx context.Context, conn *transport.Conn, bo *backoff.ExponentialBackOff,
	establish func(context.Context) error, lossCh chan error) bool {
	for attempt := 1; m.cfg.Reconnect.MaxAttempts == 0 || attempt <= m.cfg.Reconnect.MaxAttempts; attempt++ {
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = m.cfg.Reconnect.MaxDelay
		}
		m.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Info("reconnecting")

		select {
		case <-ctx.Done():
			return true
		case <-time.After(delay):
		}

		m.reconnects.Add(1)
		m.metrics.addReconnect(transport.StateReconnecting.String())
		// Tear down whatever is left of the previous session before dialing;
		// an auth failure leaves the socket open but unusable.
		conn.Disconnect()
		if err := establish(ctx); err != nil {
			conn.SetState(transport.StateReconnecting)
			m.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			continue
		}
		// Drain any loss signal raced in by the dying session.
		select {
		case <-lossCh:
		default:
		}
		m.log.Info("session restored")
		return true
	}
	return false
}

// newReconnectBackoff yields delays of base*growth^n capped at max, with no
// jitter so the schedule is exact.
func newReconnectBackoff(cfg ReconnectConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = cfg.Growth
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

// Stop shuts the client down: in-flight order requests fail with a shutdown
// error, both connections close deliberately, and the loops drain. Stop
// returns once everything exits or the context gives up waiting. Stopping a
// client that is not running is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	runStop := m.runStop
	m.mu.Unlock()

	runStop()
	m.gateway.Shutdown()
	if m.private != nil {
		m.private.Disconnect()
	}
	m.public.Disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errs.New("manager", errs.CodeShutdown,
			errs.WithMessage("shutdown deadline exceeded"),
			errs.WithCause(ctx.Err()))
	}
	return nil
}
