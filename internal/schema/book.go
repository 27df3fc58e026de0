package schema

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"qty"`
}

// BookPayload is an immutable snapshot of order book depth for one symbol.
// Bids are sorted descending and asks ascending by price; levels with a
// non-positive price or volume never enter the book. Best bid/ask, spread
// and mid price are derived, not stored.
type BookPayload struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Checksum  uint32      `json:"checksum,omitempty"`
	Snapshot  bool        `json:"snapshot"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewBookPayload builds a book snapshot from raw level lists, dropping
// non-positive entries and enforcing side ordering.
func NewBookPayload(symbol string, bids, asks []BookLevel, snapshot bool, checksum uint32, ts time.Time) BookPayload {
	return BookPayload{
		Symbol:    symbol,
		Bids:      sanitizeLevels(bids, true),
		Asks:      sanitizeLevels(asks, false),
		Checksum:  checksum,
		Snapshot:  snapshot,
		Timestamp: ts,
	}
}

func sanitizeLevels(levels []BookLevel, descending bool) []BookLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]BookLevel, 0, len(levels))
	for _, level := range levels {
		if !level.Price.IsPositive() || !level.Volume.IsPositive() {
			continue
		}
		out = append(out, level)
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// BestBid returns the highest bid level, if any.
func (b BookPayload) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b BookPayload) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Spread returns best ask minus best bid when both sides are populated.
func (b BookPayload) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice returns the midpoint between best bid and best ask.
func (b BookPayload) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}
