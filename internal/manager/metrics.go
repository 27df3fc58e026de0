package manager

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/marketwire/internal/schema"
	"github.com/coachpo/marketwire/internal/telemetry"
)

type managerMetrics struct {
	environment string

	framesReceived  metric.Int64Counter
	decodeErrors    metric.Int64Counter
	duplicates      metric.Int64Counter
	gapDrops        metric.Int64Counter
	dispatchDrops   metric.Int64Counter
	eventsDelivered metric.Int64Counter
	reconnects      metric.Int64Counter
	errorsReported  metric.Int64Counter
	orderUpdates    metric.Int64Counter
}

func newManagerMetrics() *managerMetrics {
	meter := otel.Meter("marketwire/manager")
	m := &managerMetrics{
		environment:     telemetry.Environment(),
		framesReceived:  nil,
		decodeErrors:    nil,
		duplicates:      nil,
		gapDrops:        nil,
		dispatchDrops:   nil,
		eventsDelivered: nil,
		reconnects:      nil,
		errorsReported:  nil,
		orderUpdates:    nil,
	}
	m.framesReceived, _ = meter.Int64Counter("marketwire.frames.received",
		metric.WithDescription("Inbound frames read off the connections"))
	m.decodeErrors, _ = meter.Int64Counter("marketwire.frames.decode_errors",
		metric.WithDescription("Frames dropped as malformed"))
	m.duplicates, _ = meter.Int64Counter("marketwire.sequence.duplicates",
		metric.WithDescription("Frames dropped as duplicate sequence numbers"))
	m.gapDrops, _ = meter.Int64Counter("marketwire.sequence.gap_drops",
		metric.WithDescription("Buffered frames abandoned after a sequence gap"))
	m.dispatchDrops, _ = meter.Int64Counter("marketwire.dispatch.drops",
		metric.WithDescription("Events dropped on a saturated dispatch queue"))
	m.eventsDelivered, _ = meter.Int64Counter("marketwire.dispatch.delivered",
		metric.WithDescription("Events handed to registered handlers"))
	m.reconnects, _ = meter.Int64Counter("marketwire.connection.reconnects",
		metric.WithDescription("Reconnection attempts"))
	m.errorsReported, _ = meter.Int64Counter("marketwire.errors.reported",
		metric.WithDescription("Errors surfaced through the error callback"))
	m.orderUpdates, _ = meter.Int64Counter("marketwire.orders.updates",
		metric.WithDescription("Order record state changes"))
	return m
}

func (m *managerMetrics) add(counter metric.Int64Counter, channel string) {
	if counter == nil {
		return
	}
	ctx := context.Background()
	if channel == "" {
		counter.Add(ctx, 1, metric.WithAttributes(telemetry.AttrEnvironment.String(m.environment)))
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(telemetry.ChannelAttributes(m.environment, channel, "")...))
}

func (m *managerMetrics) addError(code, reason string) {
	if m.errorsReported == nil {
		return
	}
	m.errorsReported.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.ErrorAttributes(m.environment, code, reason)...))
}

func (m *managerMetrics) addReconnect(state string) {
	if m.reconnects == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.ConnectionAttributes(m.environment, state)...))
}

func (m *managerMetrics) addOrderUpdate(record schema.OrderRecord) {
	if m.orderUpdates == nil {
		return
	}
	m.orderUpdates.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.OrderAttributes(m.environment,
			record.Symbol, string(record.Side), string(record.Type), string(record.Status))...))
}
