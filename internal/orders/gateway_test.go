package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketwire/errs"
	"github.com/coachpo/marketwire/internal/codec"
	"github.com/coachpo/marketwire/internal/schema"
)

type senderFunc func(ctx context.Context, payload []byte) error

func (f senderFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

func limitOrder() schema.OrderRequest {
	return schema.OrderRequest{
		Symbol:      "BTC/USD",
		Side:        schema.SideBuy,
		Type:        schema.OrderTypeLimit,
		Volume:      decimal.RequireFromString("0.5"),
		Price:       decimal.RequireFromString("64000"),
		StopPrice:   decimal.Zero,
		TimeInForce: schema.TimeInForceGTC,
		Flags:       nil,
		UserRef:     "client-7",
	}
}

// respondingGateway wires a gateway whose sender immediately answers every
// request with the given success flag and result document.
func respondingGateway(t *testing.T, success bool, result string, errMsg string) *Gateway {
	t.Helper()
	var g *Gateway
	g = NewGateway(senderFunc(func(_ context.Context, payload []byte) error {
		var req struct {
			Method string `json:"method"`
			ReqID  string `json:"req_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Fatalf("outbound frame not valid JSON: %v", err)
		}
		ok := success
		g.ProcessResponse(&codec.Envelope{
			Key:         req.Method,
			Event:       schema.EventTypeUnknown,
			Channel:     "",
			Method:      req.Method,
			Type:        "",
			Sequence:    0,
			HasSequence: false,
			Success:     &ok,
			ReqID:       req.ReqID,
			ErrorMsg:    errMsg,
			Result:      json.RawMessage(result),
			Timestamp:   time.Time{},
			Payloads:    nil,
			Raw:         nil,
		})
		return nil
	}), Config{Timeout: time.Second, HistoryCap: 0, OnUpdate: nil}, nil)
	return g
}

func TestAddOrderSuccessTracksRecord(t *testing.T) {
	g := respondingGateway(t, true, `{"order_id":"OID-1","cl_ord_id":"client-7"}`, "")

	orderID, err := g.AddOrder(context.Background(), limitOrder())
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	if orderID != "OID-1" {
		t.Fatalf("unexpected order id %q", orderID)
	}
	record, ok := g.Order("OID-1")
	if !ok {
		t.Fatal("accepted order must be tracked")
	}
	if record.Status != schema.OrderStatusPending {
		t.Fatalf("fresh order must be pending, got %q", record.Status)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("request must be cleared after response, pending=%d", g.PendingCount())
	}
}

func TestAddOrderLocalValidationNeverTouchesWire(t *testing.T) {
	sent := 0
	g := NewGateway(senderFunc(func(context.Context, []byte) error {
		sent++
		return nil
	}), Config{Timeout: time.Second, HistoryCap: 0, OnUpdate: nil}, nil)

	req := limitOrder()
	req.Price = decimal.Zero
	if _, err := g.AddOrder(context.Background(), req); !errs.HasCode(err, errs.CodeOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if sent != 0 {
		t.Fatal("invalid order must be rejected before sending")
	}
}

func TestAddOrderVenueRejection(t *testing.T) {
	g := respondingGateway(t, false, "", "Insufficient funds")
	_, err := g.AddOrder(context.Background(), limitOrder())
	if !errs.HasCode(err, errs.CodeOrderRejected) {
		t.Fatalf("expected venue rejection, got %v", err)
	}
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.RawMsg != "Insufficient funds" {
		t.Fatalf("raw venue message not preserved: %v", err)
	}
	if len(g.ActiveOrders()) != 0 {
		t.Fatal("rejected order must not be tracked")
	}
}

func TestAddOrderTimeoutReportsUnknownOutcome(t *testing.T) {
	g := NewGateway(senderFunc(func(context.Context, []byte) error {
		return nil // never responds
	}), Config{Timeout: 20 * time.Millisecond, HistoryCap: 0, OnUpdate: nil}, nil)
	g.newID = func() string { return "req-timeout" }

	_, err := g.AddOrder(context.Background(), limitOrder())
	if !errs.HasCode(err, errs.CodeOrderTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if g.PendingCount() != 0 {
		t.Fatal("timed-out request must be cleared")
	}

	// A late response for the timed-out request is discarded, not delivered.
	ok := true
	g.ProcessResponse(&codec.Envelope{
		Key:         codec.MethodAddOrder,
		Event:       schema.EventTypeUnknown,
		Channel:     "",
		Method:      codec.MethodAddOrder,
		Type:        "",
		Sequence:    0,
		HasSequence: false,
		Success:     &ok,
		ReqID:       "req-timeout",
		ErrorMsg:    "",
		Result:      json.RawMessage(`{"order_id":"OID-LATE"}`),
		Timestamp:   time.Time{},
		Payloads:    nil,
		Raw:         nil,
	})
	if _, found := g.Order("OID-LATE"); found {
		t.Fatal("late response must not create order state")
	}
}

func TestExecutionLifecycleMovesTerminalOrdersToHistory(t *testing.T) {
	var updates []schema.OrderStatus
	g := respondingGateway(t, true, `{"order_id":"OID-2"}`, "")
	g.onUpdate = func(record schema.OrderRecord) {
		updates = append(updates, record.Status)
	}

	if _, err := g.AddOrder(context.Background(), limitOrder()); err != nil {
		t.Fatalf("add order: %v", err)
	}

	g.ProcessExecution(schema.ExecutionPayload{
		OrderID:    "OID-2",
		UserRef:    "",
		ExecID:     "E1",
		ExecType:   "trade",
		Symbol:     "BTC/USD",
		Side:       schema.SideBuy,
		OrderType:  schema.OrderTypeLimit,
		Status:     schema.OrderStatusPartial,
		OrderQty:   decimal.RequireFromString("0.5"),
		LimitPrice: decimal.Zero,
		LastPrice:  decimal.RequireFromString("64000"),
		LastQty:    decimal.RequireFromString("0.2"),
		CumQty:     decimal.RequireFromString("0.2"),
		CumCost:    decimal.RequireFromString("12800"),
		AvgPrice:   decimal.RequireFromString("64000"),
		FeePaid:    decimal.RequireFromString("5.12"),
		Timestamp:  time.Time{},
	})
	record, _ := g.Order("OID-2")
	if record.Status != schema.OrderStatusPartial {
		t.Fatalf("expected partial status, got %q", record.Status)
	}
	if !record.ExecutedVolume.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("executed volume not updated: %s", record.ExecutedVolume)
	}

	g.ProcessExecution(schema.ExecutionPayload{
		OrderID:    "OID-2",
		UserRef:    "",
		ExecID:     "E2",
		ExecType:   "trade",
		Symbol:     "BTC/USD",
		Side:       schema.SideBuy,
		OrderType:  schema.OrderTypeLimit,
		Status:     schema.OrderStatusFilled,
		OrderQty:   decimal.RequireFromString("0.5"),
		LimitPrice: decimal.Zero,
		LastPrice:  decimal.RequireFromString("64010"),
		LastQty:    decimal.RequireFromString("0.3"),
		CumQty:     decimal.RequireFromString("0.5"),
		CumCost:    decimal.RequireFromString("32003"),
		AvgPrice:   decimal.RequireFromString("64006"),
		FeePaid:    decimal.RequireFromString("12.8"),
		Timestamp:  time.Time{},
	})

	if len(g.ActiveOrders()) != 0 {
		t.Fatal("filled order must leave the active set")
	}
	record, ok := g.Order("OID-2")
	if !ok {
		t.Fatal("terminal order must remain queryable from history")
	}
	if record.Status != schema.OrderStatusFilled {
		t.Fatalf("unexpected terminal status %q", record.Status)
	}
	if !record.AvgFillPrice.Equal(decimal.RequireFromString("64006")) {
		t.Fatalf("avg price not taken from venue: %s", record.AvgFillPrice)
	}
	want := []schema.OrderStatus{schema.OrderStatusPending, schema.OrderStatusPartial, schema.OrderStatusFilled}
	if len(updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(updates))
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("update sequence %v, want %v", updates, want)
		}
	}
}

func TestExecutionForUnknownOrderIsAdopted(t *testing.T) {
	g := NewGateway(senderFunc(func(context.Context, []byte) error { return nil }),
		Config{Timeout: time.Second, HistoryCap: 0, OnUpdate: nil}, nil)

	g.ProcessExecution(schema.ExecutionPayload{
		OrderID:    "OID-EXT",
		UserRef:    "",
		ExecID:     "",
		ExecType:   "new",
		Symbol:     "ETH/USD",
		Side:       schema.SideSell,
		OrderType:  schema.OrderTypeLimit,
		Status:     schema.OrderStatusOpen,
		OrderQty:   decimal.RequireFromString("2"),
		LimitPrice: decimal.RequireFromString("3200"),
		LastPrice:  decimal.Zero,
		LastQty:    decimal.Zero,
		CumQty:     decimal.Zero,
		CumCost:    decimal.Zero,
		AvgPrice:   decimal.Zero,
		FeePaid:    decimal.Zero,
		Timestamp:  time.Time{},
	})
	record, ok := g.Order("OID-EXT")
	if !ok {
		t.Fatal("execution for an untracked order must create a record")
	}
	if record.Symbol != "ETH/USD" || record.Status != schema.OrderStatusOpen {
		t.Fatalf("adopted record incomplete: %+v", record)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	g := NewGateway(senderFunc(func(context.Context, []byte) error { return nil }),
		Config{Timeout: time.Second, HistoryCap: 2, OnUpdate: nil}, nil)

	for _, id := range []string{"A", "B", "C"} {
		g.ProcessExecution(schema.ExecutionPayload{
			OrderID:    id,
			UserRef:    "",
			ExecID:     "",
			ExecType:   "canceled",
			Symbol:     "BTC/USD",
			Side:       schema.SideBuy,
			OrderType:  schema.OrderTypeLimit,
			Status:     schema.OrderStatusCanceled,
			OrderQty:   decimal.RequireFromString("1"),
			LimitPrice: decimal.Zero,
			LastPrice:  decimal.Zero,
			LastQty:    decimal.Zero,
			CumQty:     decimal.Zero,
			CumCost:    decimal.Zero,
			AvgPrice:   decimal.Zero,
			FeePaid:    decimal.Zero,
			Timestamp:  time.Time{},
		})
	}
	history := g.History()
	if len(history) != 2 {
		t.Fatalf("history must stay bounded, got %d", len(history))
	}
	if history[0].OrderID != "B" || history[1].OrderID != "C" {
		t.Fatalf("oldest entries must be evicted first: %+v", history)
	}
}

func TestCancelAllReportsCount(t *testing.T) {
	g := respondingGateway(t, true, `{"count":3}`, "")
	count, err := g.CancelAll(context.Background(), "")
	if err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 canceled, got %d", count)
	}
}

// capturingGateway records every outbound frame and answers success with the
// given result document.
func capturingGateway(t *testing.T, result string, frames *[][]byte) *Gateway {
	t.Helper()
	var g *Gateway
	g = NewGateway(senderFunc(func(_ context.Context, payload []byte) error {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		*frames = append(*frames, buf)
		var req struct {
			Method string `json:"method"`
			ReqID  string `json:"req_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Fatalf("outbound frame not valid JSON: %v", err)
		}
		ok := true
		g.ProcessResponse(&codec.Envelope{
			Key:         req.Method,
			Event:       schema.EventTypeUnknown,
			Channel:     "",
			Method:      req.Method,
			Type:        "",
			Sequence:    0,
			HasSequence: false,
			Success:     &ok,
			ReqID:       req.ReqID,
			ErrorMsg:    "",
			Result:      json.RawMessage(result),
			Timestamp:   time.Time{},
			Payloads:    nil,
			Raw:         nil,
		})
		return nil
	}), Config{Timeout: time.Second, HistoryCap: 0, OnUpdate: nil}, nil)
	return g
}

func TestCancelOrderByUserRefSendsClientReference(t *testing.T) {
	var frames [][]byte
	g := capturingGateway(t, `{}`, &frames)

	if err := g.CancelOrderByUserRef(context.Background(), "client-7"); err != nil {
		t.Fatalf("cancel by user ref: %v", err)
	}
	var sent struct {
		Method string `json:"method"`
		Params struct {
			OrderID []string `json:"order_id"`
			UserRef []string `json:"cl_ord_id"`
		} `json:"params"`
	}
	if err := json.Unmarshal(frames[0], &sent); err != nil {
		t.Fatalf("outbound frame: %v", err)
	}
	if sent.Method != codec.MethodCancelOrder {
		t.Fatalf("unexpected method %q", sent.Method)
	}
	if len(sent.Params.UserRef) != 1 || sent.Params.UserRef[0] != "client-7" {
		t.Fatalf("cl_ord_id not sent: %s", frames[0])
	}
	if len(sent.Params.OrderID) != 0 {
		t.Fatalf("order_id must be absent when canceling by user ref: %s", frames[0])
	}

	if err := g.CancelOrderByUserRef(context.Background(), ""); !errs.HasCode(err, errs.CodeInvalid) {
		t.Fatalf("empty user ref must be rejected locally, got %v", err)
	}
}

func TestCancelAllWithSymbolRestrictsScope(t *testing.T) {
	var frames [][]byte
	g := capturingGateway(t, `{"count":1}`, &frames)

	count, err := g.CancelAll(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 canceled, got %d", count)
	}
	var sent struct {
		Params struct {
			Symbol string `json:"symbol"`
		} `json:"params"`
	}
	if err := json.Unmarshal(frames[0], &sent); err != nil {
		t.Fatalf("outbound frame: %v", err)
	}
	if sent.Params.Symbol != "BTC/USD" {
		t.Fatalf("symbol filter not sent: %s", frames[0])
	}
}

func TestOrderSnapshotsAreDetached(t *testing.T) {
	g := NewGateway(senderFunc(func(context.Context, []byte) error { return nil }),
		Config{Timeout: time.Second, HistoryCap: 0, OnUpdate: nil}, nil)

	g.ProcessExecution(schema.ExecutionPayload{
		OrderID:    "OID-SNAP",
		UserRef:    "",
		ExecID:     "",
		ExecType:   "new",
		Symbol:     "BTC/USD",
		Side:       schema.SideBuy,
		OrderType:  schema.OrderTypeLimit,
		Status:     schema.OrderStatusOpen,
		OrderQty:   decimal.RequireFromString("1"),
		LimitPrice: decimal.Zero,
		LastPrice:  decimal.Zero,
		LastQty:    decimal.Zero,
		CumQty:     decimal.Zero,
		CumCost:    decimal.Zero,
		AvgPrice:   decimal.Zero,
		FeePaid:    decimal.Zero,
		Timestamp:  time.Time{},
	})

	record, ok := g.Order("OID-SNAP")
	if !ok {
		t.Fatal("order must be tracked")
	}
	record.Status = schema.OrderStatusCanceled
	record.Symbol = "mutated"

	fresh, _ := g.Order("OID-SNAP")
	if fresh.Status != schema.OrderStatusOpen || fresh.Symbol != "BTC/USD" {
		t.Fatalf("mutating a snapshot must not alter gateway state: %+v", fresh)
	}
}

func TestReopenAcceptsOrdersAfterShutdown(t *testing.T) {
	g := respondingGateway(t, true, `{"order_id":"OID-R"}`, "")

	g.Shutdown()
	if _, err := g.AddOrder(context.Background(), limitOrder()); !errs.HasCode(err, errs.CodeShutdown) {
		t.Fatalf("shut-down gateway must reject orders, got %v", err)
	}

	g.Reopen()
	orderID, err := g.AddOrder(context.Background(), limitOrder())
	if err != nil {
		t.Fatalf("add order after reopen: %v", err)
	}
	if orderID != "OID-R" {
		t.Fatalf("unexpected order id %q", orderID)
	}
}

func TestShutdownFailsInFlightRequests(t *testing.T) {
	sent := make(chan struct{})
	g := NewGateway(senderFunc(func(context.Context, []byte) error {
		close(sent)
		return nil
	}), Config{Timeout: 5 * time.Second, HistoryCap: 0, OnUpdate: nil}, nil)

	result := make(chan error, 1)
	go func() {
		_, err := g.AddOrder(context.Background(), limitOrder())
		result <- err
	}()

	<-sent
	g.Shutdown()

	select {
	case err := <-result:
		if !errs.HasCode(err, errs.CodeShutdown) {
			t.Fatalf("expected shutdown error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight request not completed on shutdown")
	}

	if _, err := g.AddOrder(context.Background(), limitOrder()); !errs.HasCode(err, errs.CodeShutdown) {
		t.Fatalf("post-shutdown submission must fail fast, got %v", err)
	}
}
