package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerPayload conveys a ticker summary for one symbol.
type TickerPayload struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	BidQty    decimal.Decimal `json:"bid_qty"`
	Ask       decimal.Decimal `json:"ask"`
	AskQty    decimal.Decimal `json:"ask_qty"`
	Volume24h decimal.Decimal `json:"volume"`
	Low24h    decimal.Decimal `json:"low"`
	High24h   decimal.Decimal `json:"high"`
	Change24h decimal.Decimal `json:"change_pct"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradePayload represents one public trade print.
type TradePayload struct {
	Symbol    string          `json:"symbol"`
	TradeID   string          `json:"trade_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"qty"`
	OrderType OrderType       `json:"ord_type"`
	Timestamp time.Time       `json:"timestamp"`
}

// OHLCPayload represents one candle.
type OHLCPayload struct {
	Symbol        string          `json:"symbol"`
	Interval      int             `json:"interval"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
	VWAP          decimal.Decimal `json:"vwap"`
	TradeCount    int64           `json:"trades"`
	IntervalBegin time.Time       `json:"interval_begin"`
	Timestamp     time.Time       `json:"timestamp"`
}

// BalancePayload reports the balance of a single asset.
type BalancePayload struct {
	Asset     string          `json:"asset"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionPayload captures one own-order execution update.
type ExecutionPayload struct {
	OrderID    string          `json:"order_id"`
	UserRef    string          `json:"cl_ord_id,omitempty"`
	ExecID     string          `json:"exec_id,omitempty"`
	ExecType   string          `json:"exec_type"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	OrderType  OrderType       `json:"order_type"`
	Status     OrderStatus     `json:"order_status"`
	OrderQty   decimal.Decimal `json:"order_qty"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	LastPrice  decimal.Decimal `json:"last_price"`
	LastQty    decimal.Decimal `json:"last_qty"`
	CumQty     decimal.Decimal `json:"cum_qty"`
	CumCost    decimal.Decimal `json:"cum_cost"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	FeePaid    decimal.Decimal `json:"fee_usd_equiv"`
	Timestamp  time.Time       `json:"timestamp"`
}
