// Package codec parses raw websocket frames into typed domain messages.
// Decoding is pure and synchronous: malformed input yields a typed error
// result, never a panic, and never performs I/O.
package codec

import (
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketwire/errs"
	"github.com/coachpo/marketwire/internal/schema"
)

// Method names understood on the wire.
const (
	MethodSubscribe    = "subscribe"
	MethodUnsubscribe  = "unsubscribe"
	MethodAuth         = "auth"
	MethodPing         = "ping"
	MethodPong         = "pong"
	MethodAddOrder     = "add_order"
	MethodCancelOrder  = "cancel_order"
	MethodCancelAll    = "cancel_all_orders"
	MethodEditOrder    = "amend_order"
	keyUnknown         = "unknown"
)

// Envelope is the normalized form of one inbound frame. Channel-keyed and
// method-keyed frames share the same dispatch key space so the router never
// has to guess which family a frame belongs to.
type Envelope struct {
	// Key is the normalized dispatch key: the channel name for data frames,
	// the method name for control frames, and "unknown" otherwise.
	Key         string
	Event       schema.EventType
	Channel     string
	Method      string
	Type        string
	Sequence    uint64
	HasSequence bool
	Success     *bool
	ReqID       string
	ErrorMsg    string
	Result      json.RawMessage
	Timestamp   time.Time
	// Payloads holds one typed payload per decoded data element. Elements
	// missing their symbol/asset identifier are skipped individually.
	Payloads []any
	Raw      json.RawMessage
}

// IsControl reports whether the frame is a method-keyed control message.
func (e *Envelope) IsControl() bool {
	return e != nil && e.Method != ""
}

// number decodes JSON numerics with decimal semantics, tolerating quoted
// values, empty strings and nulls (all of which default to zero).
type number struct {
	decimal.Decimal
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" || s == `""` {
		n.Decimal = decimal.Decimal{}
		return nil
	}
	s = strings.Trim(s, `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	n.Decimal = d
	return nil
}

type frame struct {
	Channel   string          `json:"channel"`
	Method    string          `json:"method"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Sequence  *uint64         `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Success   *bool           `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
	ReqID     json.RawMessage `json:"req_id"`
}

// Decode parses one raw frame. The returned error always carries
// errs.CodeDecode; callers log and skip, they never crash.
func Decode(raw []byte) (*Envelope, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errs.New("codec", errs.CodeDecode, errs.WithMessage("empty frame"))
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.New("codec", errs.CodeDecode,
			errs.WithMessage("malformed frame"), errs.WithCause(err))
	}

	env := &Envelope{
		Key:         keyUnknown,
		Event:       schema.EventTypeUnknown,
		Channel:     strings.ToLower(strings.TrimSpace(f.Channel)),
		Method:      strings.ToLower(strings.TrimSpace(f.Method)),
		Type:        strings.ToLower(strings.TrimSpace(f.Type)),
		Sequence:    0,
		HasSequence: false,
		Success:     f.Success,
		ReqID:       normalizeReqID(f.ReqID),
		ErrorMsg:    strings.TrimSpace(f.Error),
		Result:      f.Result,
		Timestamp:   parseTime(f.Timestamp),
		Payloads:    nil,
		Raw:         json.RawMessage(raw),
	}
	if f.Sequence != nil {
		env.Sequence = *f.Sequence
		env.HasSequence = true
	}

	// Method-keyed control frames take precedence: a subscribe ack without a
	// top-level channel is a control message, not an unclassifiable frame.
	if env.Method != "" {
		return decodeControl(env)
	}
	if env.Channel != "" {
		return decodeData(env, f.Data)
	}
	// Neither channel nor method: routed to the unknown handler downstream.
	return env, nil
}

func decodeControl(env *Envelope) (*Envelope, error) {
	env.Key = env.Method
	switch env.Method {
	case MethodSubscribe, MethodUnsubscribe:
		// Subscription acks carry their channel inside the result object;
		// pull it out so acks correlate by channel name.
		if len(env.Result) > 0 {
			var res struct {
				Channel string `json:"channel"`
				Symbol  string `json:"symbol"`
			}
			if err := json.Unmarshal(env.Result, &res); err == nil {
				env.Channel = strings.ToLower(strings.TrimSpace(res.Channel))
			}
		}
		if env.Success != nil && !*env.Success {
			env.Event = schema.EventTypeSubscriptionError
		} else {
			env.Event = schema.EventTypeSubscriptionSuccess
		}
	case MethodPong, MethodPing:
		env.Event = schema.EventTypeHeartbeat
	default:
		// Order and auth responses are routed to their gateways by key; they
		// are not callback events themselves.
		env.Event = ""
	}
	return env, nil
}

func decodeData(env *Envelope, data json.RawMessage) (*Envelope, error) {
	env.Key = env.Channel
	evt, ok := schema.EventForChannel(env.Channel)
	if !ok {
		// Unrecognized channels stay decodable: the frame reaches the
		// unknown handler with its raw payload intact.
		env.Event = schema.EventTypeUnknown
		return env, nil
	}
	env.Event = evt

	switch evt {
	case schema.EventTypeHeartbeat:
		return env, nil
	case schema.EventTypeStatus:
		return decodeStatus(env, data)
	case schema.EventTypeTicker:
		return decodeElements(env, data, decodeTicker)
	case schema.EventTypeBook:
		return decodeElements(env, data, decodeBook)
	case schema.EventTypeTrade:
		return decodeElements(env, data, decodeTrade)
	case schema.EventTypeOHLC:
		return decodeElements(env, data, decodeOHLC)
	case schema.EventTypeBalance:
		return decodeElements(env, data, decodeBalance)
	case schema.EventTypeOrderUpdate:
		return decodeElements(env, data, decodeExecution)
	default:
		return env, nil
	}
}

func decodeElements(env *Envelope, data json.RawMessage, decode func(*Envelope, json.RawMessage) (any, bool, error)) (*Envelope, error) {
	if len(data) == 0 {
		return env, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		// Some venues send a bare object for single-element payloads.
		var single json.RawMessage
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, errs.New("codec", errs.CodeDecode,
				errs.WithChannel(env.Channel),
				errs.WithMessage("data is neither array nor object"),
				errs.WithCause(err))
		}
		elements = []json.RawMessage{single}
	}
	payloads := make([]any, 0, len(elements))
	for _, element := range elements {
		payload, ok, err := decode(env, element)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		payloads = append(payloads, payload)
	}
	env.Payloads = payloads
	return env, nil
}

func decodeStatus(env *Envelope, data json.RawMessage) (*Envelope, error) {
	return decodeElements(env, data, func(env *Envelope, element json.RawMessage) (any, bool, error) {
		var wire struct {
			System       string `json:"system"`
			Version      string `json:"api_version"`
			ConnectionID uint64 `json:"connection_id"`
		}
		if err := json.Unmarshal(element, &wire); err != nil {
			return nil, false, decodeElementErr(env, err)
		}
		connID := ""
		if wire.ConnectionID != 0 {
			connID = strconv.FormatUint(wire.ConnectionID, 10)
		}
		return schema.StatusPayload{
			System:       wire.System,
			Version:      wire.Version,
			ConnectionID: connID,
			Timestamp:    env.Timestamp,
		}, true, nil
	})
}

func decodeTicker(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		Symbol    string `json:"symbol"`
		Last      number `json:"last"`
		Bid       number `json:"bid"`
		BidQty    number `json:"bid_qty"`
		Ask       number `json:"ask"`
		AskQty    number `json:"ask_qty"`
		Volume    number `json:"volume"`
		Low       number `json:"low"`
		High      number `json:"high"`
		ChangePct number `json:"change_pct"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.Symbol) == "" {
		return nil, false, nil
	}
	return schema.TickerPayload{
		Symbol:    wire.Symbol,
		Last:      wire.Last.Decimal,
		Bid:       wire.Bid.Decimal,
		BidQty:    wire.BidQty.Decimal,
		Ask:       wire.Ask.Decimal,
		AskQty:    wire.AskQty.Decimal,
		Volume24h: wire.Volume.Decimal,
		Low24h:    wire.Low.Decimal,
		High24h:   wire.High.Decimal,
		Change24h: wire.ChangePct.Decimal,
		Timestamp: env.Timestamp,
	}, true, nil
}

type wireLevel struct {
	Price number `json:"price"`
	Qty   number `json:"qty"`
}

func toLevels(levels []wireLevel) []schema.BookLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]schema.BookLevel, 0, len(levels))
	for _, level := range levels {
		out = append(out, schema.BookLevel{Price: level.Price.Decimal, Volume: level.Qty.Decimal})
	}
	return out
}

func decodeBook(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		Symbol    string      `json:"symbol"`
		Bids      []wireLevel `json:"bids"`
		Asks      []wireLevel `json:"asks"`
		Checksum  uint32      `json:"checksum"`
		Timestamp string      `json:"timestamp"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.Symbol) == "" {
		return nil, false, nil
	}
	ts := parseTime(wire.Timestamp)
	if ts.IsZero() {
		ts = env.Timestamp
	}
	snapshot := env.Type == "snapshot"
	return schema.NewBookPayload(wire.Symbol, toLevels(wire.Bids), toLevels(wire.Asks), snapshot, wire.Checksum, ts), true, nil
}

func decodeTrade(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		Price     number `json:"price"`
		Qty       number `json:"qty"`
		OrdType   string `json:"ord_type"`
		TradeID   uint64 `json:"trade_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.Symbol) == "" {
		return nil, false, nil
	}
	ts := parseTime(wire.Timestamp)
	if ts.IsZero() {
		ts = env.Timestamp
	}
	tradeID := ""
	if wire.TradeID != 0 {
		tradeID = strconv.FormatUint(wire.TradeID, 10)
	}
	return schema.TradePayload{
		Symbol:    wire.Symbol,
		TradeID:   tradeID,
		Side:      schema.Side(strings.ToLower(wire.Side)),
		Price:     wire.Price.Decimal,
		Volume:    wire.Qty.Decimal,
		OrderType: schema.OrderType(strings.ToLower(wire.OrdType)),
		Timestamp: ts,
	}, true, nil
}

func decodeOHLC(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		Symbol        string `json:"symbol"`
		Interval      int    `json:"interval"`
		Open          number `json:"open"`
		High          number `json:"high"`
		Low           number `json:"low"`
		Close         number `json:"close"`
		Volume        number `json:"volume"`
		VWAP          number `json:"vwap"`
		Trades        int64  `json:"trades"`
		IntervalBegin string `json:"interval_begin"`
		Timestamp     string `json:"timestamp"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.Symbol) == "" {
		return nil, false, nil
	}
	ts := parseTime(wire.Timestamp)
	if ts.IsZero() {
		ts = env.Timestamp
	}
	return schema.OHLCPayload{
		Symbol:        wire.Symbol,
		Interval:      wire.Interval,
		Open:          wire.Open.Decimal,
		High:          wire.High.Decimal,
		Low:           wire.Low.Decimal,
		Close:         wire.Close.Decimal,
		Volume:        wire.Volume.Decimal,
		VWAP:          wire.VWAP.Decimal,
		TradeCount:    wire.Trades,
		IntervalBegin: parseTime(wire.IntervalBegin),
		Timestamp:     ts,
	}, true, nil
}

func decodeBalance(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		Asset     string `json:"asset"`
		Balance   number `json:"balance"`
		Available number `json:"available"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.Asset) == "" {
		return nil, false, nil
	}
	available := wire.Available.Decimal
	if available.IsZero() {
		available = wire.Balance.Decimal
	}
	return schema.BalancePayload{
		Asset:     wire.Asset,
		Balance:   wire.Balance.Decimal,
		Available: available,
		Timestamp: env.Timestamp,
	}, true, nil
}

func decodeExecution(env *Envelope, element json.RawMessage) (any, bool, error) {
	var wire struct {
		OrderID     string `json:"order_id"`
		UserRef     string `json:"cl_ord_id"`
		ExecID      string `json:"exec_id"`
		ExecType    string `json:"exec_type"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderType   string `json:"order_type"`
		OrderStatus string `json:"order_status"`
		OrderQty    number `json:"order_qty"`
		LimitPrice  number `json:"limit_price"`
		LastPrice   number `json:"last_price"`
		LastQty     number `json:"last_qty"`
		CumQty      number `json:"cum_qty"`
		CumCost     number `json:"cum_cost"`
		AvgPrice    number `json:"avg_price"`
		Fee         number `json:"fee_usd_equiv"`
		Timestamp   string `json:"timestamp"`
	}
	if err := json.Unmarshal(element, &wire); err != nil {
		return nil, false, decodeElementErr(env, err)
	}
	if strings.TrimSpace(wire.OrderID) == "" {
		return nil, false, nil
	}
	ts := parseTime(wire.Timestamp)
	if ts.IsZero() {
		ts = env.Timestamp
	}
	return schema.ExecutionPayload{
		OrderID:    wire.OrderID,
		UserRef:    wire.UserRef,
		ExecID:     wire.ExecID,
		ExecType:   strings.ToLower(wire.ExecType),
		Symbol:     wire.Symbol,
		Side:       schema.Side(strings.ToLower(wire.Side)),
		OrderType:  schema.OrderType(strings.ToLower(wire.OrderType)),
		Status:     schema.NormalizeOrderStatus(wire.OrderStatus),
		OrderQty:   wire.OrderQty.Decimal,
		LimitPrice: wire.LimitPrice.Decimal,
		LastPrice:  wire.LastPrice.Decimal,
		LastQty:    wire.LastQty.Decimal,
		CumQty:     wire.CumQty.Decimal,
		CumCost:    wire.CumCost.Decimal,
		AvgPrice:   wire.AvgPrice.Decimal,
		FeePaid:    wire.Fee.Decimal,
		Timestamp:  ts,
	}, true, nil
}

func decodeElementErr(env *Envelope, err error) error {
	return errs.New("codec", errs.CodeDecode,
		errs.WithChannel(env.Channel),
		errs.WithMessage("malformed data element"),
		errs.WithCause(err))
}

func normalizeReqID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func parseTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return ts.UTC()
	}
	if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}
