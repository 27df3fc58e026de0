// Package orders correlates order requests with venue responses and keeps
// per-session order state fed by the executions channel.
package orders

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/marketwire/errs"
	"github.com/coachpo/marketwire/internal/codec"
	"github.com/coachpo/marketwire/internal/schema"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultHistoryCap = 256
)

// Sender writes one outbound frame to the active connection.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type response struct {
	success bool
	result  json.RawMessage
	errMsg  string
	err     error
}

type pendingRequest struct {
	method string
	done   chan response
}

// Config tunes the gateway.
type Config struct {
	// Timeout bounds how long a blocking order call waits for its response.
	Timeout time.Duration
	// HistoryCap bounds how many terminal orders are retained.
	HistoryCap int
	// OnUpdate, when set, receives a copy of the order record after every
	// state change.
	OnUpdate func(schema.OrderRecord)
}

// Gateway submits orders over the connection and tracks their lifecycle.
type Gateway struct {
	sender   Sender
	log      logrus.FieldLogger
	timeout  time.Duration
	histCap  int
	onUpdate func(schema.OrderRecord)

	mu      sync.Mutex
	pending map[string]*pendingRequest
	active  map[string]*schema.OrderRecord
	history []*schema.OrderRecord
	closed  bool

	newID func() string
	now   func() time.Time
}

// NewGateway creates an order gateway writing through sender.
func NewGateway(sender Sender, cfg Config, log logrus.FieldLogger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	histCap := cfg.HistoryCap
	if histCap <= 0 {
		histCap = defaultHistoryCap
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gateway{
		sender:   sender,
		log:      log.WithField("component", "orders"),
		timeout:  timeout,
		histCap:  histCap,
		onUpdate: cfg.OnUpdate,
		mu:       sync.Mutex{},
		pending:  make(map[string]*pendingRequest),
		active:   make(map[string]*schema.OrderRecord),
		history:  nil,
		closed:   false,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ReqID  string `json:"req_id"`
}

// AddOrder validates and submits an order, blocking until the venue responds
// or the timeout elapses. On success it returns the venue-assigned order id.
// A timeout means the outcome is unknown, not that the order failed.
func (g *Gateway) AddOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	params := map[string]any{
		"symbol":     req.Symbol,
		"side":       string(req.Side),
		"order_type": string(req.Type),
		"order_qty":  req.Volume,
	}
	if req.Price.IsPositive() {
		params["limit_price"] = req.Price
	}
	if req.StopPrice.IsPositive() {
		params["trigger_price"] = req.StopPrice
	}
	if req.TimeInForce != "" {
		params["time_in_force"] = string(req.TimeInForce)
	}
	if len(req.Flags) > 0 {
		params["order_flags"] = req.Flags
	}
	if req.UserRef != "" {
		params["cl_ord_id"] = req.UserRef
	}

	resp, reqID, err := g.roundTrip(ctx, codec.MethodAddOrder, params)
	if err != nil {
		return "", err
	}
	if !resp.success {
		return "", errs.New("orders", errs.CodeOrderRejected,
			errs.WithReqID(reqID),
			errs.WithRawMessage(resp.errMsg),
			errs.WithMessage("order rejected by venue"))
	}

	var result struct {
		OrderID string `json:"order_id"`
		UserRef string `json:"cl_ord_id"`
	}
	if err := json.Unmarshal(resp.result, &result); err != nil || result.OrderID == "" {
		return "", errs.New("orders", errs.CodeDecode,
			errs.WithReqID(reqID),
			errs.WithMessage("order response missing order_id"),
			errs.WithCause(err))
	}

	now := g.now()
	record := &schema.OrderRecord{
		OrderID:         result.OrderID,
		UserRef:         req.UserRef,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          schema.OrderStatusPending,
		RequestedVolume: req.Volume,
		ExecutedVolume:  decimal.Zero,
		AvgFillPrice:    decimal.Zero,
		CumulativeCost:  decimal.Zero,
		CumulativeFee:   decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	g.mu.Lock()
	g.active[record.OrderID] = record
	snapshot := *record
	g.mu.Unlock()
	g.notify(snapshot)

	return result.OrderID, nil
}

// CancelOrder requests cancellation of one order by its venue-assigned id and
// blocks for the response. The record stays active until the executions
// channel confirms the terminal state; the venue ack alone only means the
// cancel was accepted.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errs.New("orders", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	return g.cancel(ctx, map[string]any{"order_id": []string{orderID}})
}

// CancelOrderByUserRef requests cancellation by the client-assigned reference
// supplied on submission.
func (g *Gateway) CancelOrderByUserRef(ctx context.Context, userRef string) error {
	if userRef == "" {
		return errs.New("orders", errs.CodeInvalid, errs.WithMessage("user reference required"))
	}
	return g.cancel(ctx, map[string]any{"cl_ord_id": []string{userRef}})
}

func (g *Gateway) cancel(ctx context.Context, params map[string]any) error {
	resp, reqID, err := g.roundTrip(ctx, codec.MethodCancelOrder, params)
	if err != nil {
		return err
	}
	if !resp.success {
		return errs.New("orders", errs.CodeOrderRejected,
			errs.WithReqID(reqID),
			errs.WithRawMessage(resp.errMsg),
			errs.WithMessage("cancel rejected by venue"))
	}
	return nil
}

// CancelAll cancels open orders in one request and returns how many the venue
// reports it canceled. A non-empty symbol restricts it to one instrument.
func (g *Gateway) CancelAll(ctx context.Context, symbol string) (int, error) {
	var params any
	if symbol != "" {
		params = map[string]any{"symbol": symbol}
	}
	resp, reqID, err := g.roundTrip(ctx, codec.MethodCancelAll, params)
	if err != nil {
		return 0, err
	}
	if !resp.success {
		return 0, errs.New("orders", errs.CodeOrderRejected,
			errs.WithReqID(reqID),
			errs.WithRawMessage(resp.errMsg),
			errs.WithMessage("cancel_all rejected by venue"))
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp.result, &result); err != nil {
		return 0, errs.New("orders", errs.CodeDecode,
			errs.WithReqID(reqID),
			errs.WithMessage("cancel_all response malformed"),
			errs.WithCause(err))
	}
	return result.Count, nil
}

func (g *Gateway) roundTrip(ctx context.Context, method string, params any) (response, string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return response{}, "", errs.New("orders", errs.CodeShutdown,
			errs.WithMessage("gateway is shut down"))
	}
	reqID := g.newID()
	pending := &pendingRequest{method: method, done: make(chan response, 1)}
	g.pending[reqID] = pending
	g.mu.Unlock()

	payload, err := json.Marshal(request{Method: method, Params: params, ReqID: reqID})
	if err != nil {
		g.discard(reqID)
		return response{}, reqID, errs.New("orders", errs.CodeInvalid,
			errs.WithReqID(reqID), errs.WithCause(err))
	}
	if err := g.sender.Send(ctx, payload); err != nil {
		g.discard(reqID)
		return response{}, reqID, errs.New("orders", errs.CodeNetwork,
			errs.WithReqID(reqID),
			errs.WithMessage("failed to send "+method),
			errs.WithCause(err))
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case resp := <-pending.done:
		if resp.err != nil {
			return response{}, reqID, resp.err
		}
		return resp, reqID, nil
	case <-ctx.Done():
		g.discard(reqID)
		return response{}, reqID, errs.New("orders", errs.CodeShutdown,
			errs.WithReqID(reqID), errs.WithCause(ctx.Err()))
	case <-timer.C:
		g.discard(reqID)
		return response{}, reqID, errs.New("orders", errs.CodeOrderTimeout,
			errs.WithReqID(reqID),
			errs.WithMessage("no response for "+method+", outcome unknown"))
	}
}

func (g *Gateway) discard(reqID string) {
	g.mu.Lock()
	delete(g.pending, reqID)
	g.mu.Unlock()
}

// ProcessResponse delivers a method response to its waiting request. Responses
// with no matching request are logged and discarded; late replies after a
// timeout land here.
func (g *Gateway) ProcessResponse(env *codec.Envelope) {
	g.mu.Lock()
	pending, ok := g.pending[env.ReqID]
	if ok {
		delete(g.pending, env.ReqID)
	}
	g.mu.Unlock()
	if !ok {
		g.log.WithFields(logrus.Fields{
			"method": env.Method,
			"req_id": env.ReqID,
		}).Warn("discarding response with no matching request")
		return
	}

	resp := response{
		success: env.Success != nil && *env.Success,
		result:  env.Result,
		errMsg:  env.ErrorMsg,
		err:     nil,
	}
	pending.done <- resp
}

// ProcessExecution applies one executions-channel event to order state.
// Orders first seen through executions (placed elsewhere in the session, or
// surviving a reconnect) are adopted rather than dropped.
func (g *Gateway) ProcessExecution(exec schema.ExecutionPayload) {
	if exec.OrderID == "" {
		return
	}

	g.mu.Lock()
	record, ok := g.active[exec.OrderID]
	if !ok {
		record = &schema.OrderRecord{
			OrderID:         exec.OrderID,
			UserRef:         exec.UserRef,
			Symbol:          exec.Symbol,
			Side:            exec.Side,
			Type:            exec.OrderType,
			Status:          schema.OrderStatusPending,
			RequestedVolume: exec.OrderQty,
			ExecutedVolume:  decimal.Zero,
			AvgFillPrice:    decimal.Zero,
			CumulativeCost:  decimal.Zero,
			CumulativeFee:   decimal.Zero,
			CreatedAt:       g.now(),
			UpdatedAt:       g.now(),
		}
		g.active[exec.OrderID] = record
	}

	// Cumulative fields from the venue are authoritative when present.
	if !exec.CumQty.IsZero() {
		record.ExecutedVolume = exec.CumQty
	}
	if !exec.AvgPrice.IsZero() {
		record.AvgFillPrice = exec.AvgPrice
	}
	if !exec.CumCost.IsZero() {
		record.CumulativeCost = exec.CumCost
	}
	if !exec.FeePaid.IsZero() {
		record.CumulativeFee = exec.FeePaid
	}
	if exec.Symbol != "" {
		record.Symbol = exec.Symbol
	}
	if exec.OrderQty.IsPositive() {
		record.RequestedVolume = exec.OrderQty
	}
	if exec.Status != "" {
		record.Status = exec.Status
	}
	record.UpdatedAt = g.now()

	if record.Status.Terminal() {
		delete(g.active, exec.OrderID)
		g.history = append(g.history, record)
		if len(g.history) > g.histCap {
			g.history = g.history[len(g.history)-g.histCap:]
		}
	}
	snapshot := *record
	g.mu.Unlock()

	g.notify(snapshot)
}

func (g *Gateway) notify(record schema.OrderRecord) {
	if g.onUpdate != nil {
		g.onUpdate(record)
	}
}

// Order looks up one order by id, active orders first, then retained history.
// The returned record is a copy detached from gateway state.
func (g *Gateway) Order(orderID string) (schema.OrderRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if record, ok := g.active[orderID]; ok {
		return *record.Clone(), true
	}
	for i := len(g.history) - 1; i >= 0; i-- {
		if g.history[i].OrderID == orderID {
			return *g.history[i].Clone(), true
		}
	}
	return schema.OrderRecord{}, false
}

// ActiveOrders returns a snapshot of every non-terminal order.
func (g *Gateway) ActiveOrders() []schema.OrderRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schema.OrderRecord, 0, len(g.active))
	for _, record := range g.active {
		out = append(out, *record.Clone())
	}
	return out
}

// History returns the retained terminal orders, oldest first.
func (g *Gateway) History() []schema.OrderRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schema.OrderRecord, 0, len(g.history))
	for _, record := range g.history {
		out = append(out, *record.Clone())
	}
	return out
}

// PendingCount reports how many requests are awaiting responses.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Shutdown fails every in-flight request with a shutdown error and rejects
// further submissions. Order state is retained for inspection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closed = true
	drained := g.pending
	g.pending = make(map[string]*pendingRequest)
	g.mu.Unlock()

	for reqID, pending := range drained {
		pending.done <- response{
			success: false,
			result:  nil,
			errMsg:  "",
			err: errs.New("orders", errs.CodeShutdown,
				errs.WithReqID(reqID),
				errs.WithMessage("client shutting down, outcome unknown")),
		}
	}
}

// Reopen accepts submissions again after Shutdown, when the client restarts.
func (g *Gateway) Reopen() {
	g.mu.Lock()
	g.closed = false
	g.mu.Unlock()
}
