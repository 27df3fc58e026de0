package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketwire/errs"
)

// Side captures the direction of an order or trade.
type Side string

const (
	// SideBuy indicates buy orders and fills.
	SideBuy Side = "buy"
	// SideSell indicates sell orders and fills.
	SideSell Side = "sell"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	// OrderTypeMarket executes immediately at the best available price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit rests at the requested price.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeStopLoss triggers a market order at the stop price.
	OrderTypeStopLoss OrderType = "stop-loss"
	// OrderTypeStopLossLimit triggers a limit order at the stop price.
	OrderTypeStopLossLimit OrderType = "stop-loss-limit"
	// OrderTypeTakeProfit triggers a market order at the profit price.
	OrderTypeTakeProfit OrderType = "take-profit"
	// OrderTypeTakeProfitLimit triggers a limit order at the profit price.
	OrderTypeTakeProfitLimit OrderType = "take-profit-limit"
)

// RequiresPrice reports whether the order type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		return true
	default:
		return false
	}
}

// RequiresStopPrice reports whether the order type needs a trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLossLimit, OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		return true
	default:
		return false
	}
}

// TimeInForce enumerates order lifetime policies.
type TimeInForce string

const (
	// TimeInForceGTC keeps the order open until canceled.
	TimeInForceGTC TimeInForce = "gtc"
	// TimeInForceIOC fills what it can immediately and cancels the rest.
	TimeInForceIOC TimeInForce = "ioc"
	// TimeInForceGTD keeps the order open until a given time.
	TimeInForceGTD TimeInForce = "gtd"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending marks orders submitted but not yet acknowledged.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusOpen marks live orders resting on the book.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusPartial marks orders with partial fills.
	OrderStatusPartial OrderStatus = "partially_filled"
	// OrderStatusFilled marks fully executed orders.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusCanceled marks canceled orders.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusExpired marks expired orders.
	OrderStatusExpired OrderStatus = "expired"
)

// Terminal reports whether no further updates are expected for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// NormalizeOrderStatus maps venue status strings onto the canonical set.
func NormalizeOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending_new", "pending":
		return OrderStatusPending
	case "new", "open":
		return OrderStatusOpen
	case "partially_filled", "partial":
		return OrderStatusPartial
	case "filled", "closed":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCanceled
	case "expired":
		return OrderStatusExpired
	default:
		return OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// OrderRequest describes an order submission. A zero Price or StopPrice means
// the field was not provided.
type OrderRequest struct {
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"order_type"`
	Volume      decimal.Decimal `json:"order_qty"`
	Price       decimal.Decimal `json:"limit_price"`
	StopPrice   decimal.Decimal `json:"trigger_price"`
	TimeInForce TimeInForce     `json:"time_in_force,omitempty"`
	Flags       []string        `json:"order_flags,omitempty"`
	UserRef     string          `json:"cl_ord_id,omitempty"`
}

// Validate checks the request locally before anything is written to the wire.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return errs.New("orders", errs.CodeOrderValidation, errs.WithMessage("symbol required"))
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return errs.New("orders", errs.CodeOrderValidation, errs.WithMessage("side must be buy or sell"))
	}
	if !r.Volume.IsPositive() {
		return errs.New("orders", errs.CodeOrderValidation, errs.WithMessage("volume must be positive"))
	}
	if r.Type.RequiresPrice() && !r.Price.IsPositive() {
		return errs.New("orders", errs.CodeOrderValidation,
			errs.WithMessage("limit price required for order type "+string(r.Type)))
	}
	if r.Type.RequiresStopPrice() && !r.StopPrice.IsPositive() {
		return errs.New("orders", errs.CodeOrderValidation,
			errs.WithMessage("trigger price required for order type "+string(r.Type)))
	}
	return nil
}

// OrderRecord tracks a live order from placement through its terminal state.
type OrderRecord struct {
	OrderID         string          `json:"order_id"`
	UserRef         string          `json:"cl_ord_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"order_type"`
	Status          OrderStatus     `json:"status"`
	RequestedVolume decimal.Decimal `json:"order_qty"`
	ExecutedVolume  decimal.Decimal `json:"cum_qty"`
	AvgFillPrice    decimal.Decimal `json:"avg_price"`
	CumulativeCost  decimal.Decimal `json:"cum_cost"`
	CumulativeFee   decimal.Decimal `json:"fee_paid"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns an independent copy of the record.
func (r *OrderRecord) Clone() *OrderRecord {
	if r == nil {
		return nil
	}
	cloned := *r
	return &cloned
}
