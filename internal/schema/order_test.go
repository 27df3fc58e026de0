package schema

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketwire/errs"
)

func TestOrderRequestValidate(t *testing.T) {
	base := OrderRequest{
		Symbol: "BTC/USD",
		Side:   SideBuy,
		Type:   OrderTypeLimit,
		Volume: decimal.NewFromInt(1),
		Price:  decimal.NewFromInt(100),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"missing symbol", func(r *OrderRequest) { r.Symbol = " " }},
		{"bad side", func(r *OrderRequest) { r.Side = "hold" }},
		{"zero volume", func(r *OrderRequest) { r.Volume = decimal.Zero }},
		{"negative volume", func(r *OrderRequest) { r.Volume = decimal.NewFromInt(-1) }},
		{"limit without price", func(r *OrderRequest) { r.Price = decimal.Zero }},
		{"stop without trigger", func(r *OrderRequest) {
			r.Type = OrderTypeStopLoss
			r.StopPrice = decimal.Zero
		}},
	}
	for _, tc := range cases {
		req := base
		tc.mutate(&req)
		err := req.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !errs.HasCode(err, errs.CodeOrderValidation) {
			t.Fatalf("%s: expected order_validation code, got %v", tc.name, err)
		}
	}
}

func TestOrderTypePriceRequirements(t *testing.T) {
	if OrderTypeMarket.RequiresPrice() {
		t.Fatal("market orders must not require a price")
	}
	if !OrderTypeStopLossLimit.RequiresPrice() || !OrderTypeStopLossLimit.RequiresStopPrice() {
		t.Fatal("stop-loss-limit requires both prices")
	}
	if OrderTypeLimit.RequiresStopPrice() {
		t.Fatal("limit orders must not require a trigger price")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartial} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if got := NormalizeOrderStatus("Cancelled"); got != OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}
}
