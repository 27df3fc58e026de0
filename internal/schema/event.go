// Package schema defines the canonical event types and payloads emitted by
// the marketwire client.
package schema

import (
	"strings"
	"time"
)

// EventType enumerates the closed set of event categories the client emits.
// Dispatch is always by EventType, never by raw channel or method strings.
type EventType string

const (
	// EventTypeBalance identifies account balance snapshots.
	EventTypeBalance EventType = "Balance"
	// EventTypeTicker identifies ticker summary events.
	EventTypeTicker EventType = "Ticker"
	// EventTypeBook identifies order book snapshots and updates.
	EventTypeBook EventType = "Book"
	// EventTypeTrade identifies public trade prints.
	EventTypeTrade EventType = "Trade"
	// EventTypeOHLC identifies candle events.
	EventTypeOHLC EventType = "OHLC"
	// EventTypeOrderUpdate identifies own-order execution updates.
	EventTypeOrderUpdate EventType = "OrderUpdate"
	// EventTypeStatus identifies venue system status notices.
	EventTypeStatus EventType = "Status"
	// EventTypeHeartbeat identifies venue heartbeat frames.
	EventTypeHeartbeat EventType = "Heartbeat"
	// EventTypeSubscriptionSuccess identifies subscription acknowledgements.
	EventTypeSubscriptionSuccess EventType = "SubscriptionSuccess"
	// EventTypeSubscriptionError identifies subscription rejections.
	EventTypeSubscriptionError EventType = "SubscriptionError"
	// EventTypeUnknown identifies frames that carry neither a recognized
	// channel nor a recognized method. They are surfaced, never dropped
	// silently.
	EventTypeUnknown EventType = "Unknown"
)

// Channel names understood on the wire.
const (
	ChannelTicker     = "ticker"
	ChannelBook       = "book"
	ChannelTrade      = "trade"
	ChannelOHLC       = "ohlc"
	ChannelBalances   = "balances"
	ChannelExecutions = "executions"
	ChannelStatus     = "status"
	ChannelHeartbeat  = "heartbeat"
)

var channelEvents = map[string]EventType{
	ChannelTicker:     EventTypeTicker,
	ChannelBook:       EventTypeBook,
	ChannelTrade:      EventTypeTrade,
	ChannelOHLC:       EventTypeOHLC,
	ChannelBalances:   EventTypeBalance,
	ChannelExecutions: EventTypeOrderUpdate,
	ChannelStatus:     EventTypeStatus,
	ChannelHeartbeat:  EventTypeHeartbeat,
}

// EventForChannel resolves the event type carried by a data channel.
func EventForChannel(channel string) (EventType, bool) {
	evt, ok := channelEvents[strings.ToLower(strings.TrimSpace(channel))]
	return evt, ok
}

// PrivateChannel reports whether the channel requires an authenticated session.
func PrivateChannel(channel string) bool {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case ChannelBalances, ChannelExecutions:
		return true
	default:
		return false
	}
}

// StatusPayload conveys a venue system status notice.
type StatusPayload struct {
	System       string    `json:"system"`
	Version      string    `json:"version"`
	ConnectionID string    `json:"connection_id"`
	Timestamp    time.Time `json:"timestamp"`
}
