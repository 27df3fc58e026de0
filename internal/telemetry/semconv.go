// Package telemetry provides semantic conventions for marketwire observability.
package telemetry

import (
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for marketwire telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrChannel labels signals with the wire channel name (ticker, book, ...).
	AttrChannel = attribute.Key("channel")
	// AttrEventType annotates counters with the canonical event classification.
	AttrEventType = attribute.Key("event.type")
	// AttrSymbol captures the tradable instrument symbol (e.g. BTC/USD).
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes limit vs market orders in execution metrics.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderState captures the order lifecycle state (open, filled, canceled, ...).
	AttrOrderState = attribute.Key("order.state")
	// AttrErrorType categorizes failures by canonical error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrReason provides additional free-form context for errors and rejections.
	AttrReason = attribute.Key("reason")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Environment returns the deployment environment tag, defaulting to dev.
func Environment() string {
	if env := strings.TrimSpace(os.Getenv("MARKETWIRE_ENV")); env != "" {
		return strings.ToLower(env)
	}
	return "dev"
}

// ChannelAttributes returns common attributes for per-channel metrics.
func ChannelAttributes(environment, channel, symbol string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(environment, symbol, side, orderType, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	if state != "" {
		attrs = append(attrs, AttrOrderState.String(state))
	}
	return attrs
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrConnectionState.String(state),
	}
}
