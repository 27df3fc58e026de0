// Command marketwire runs the streaming client against the venue: it
// connects, subscribes the requested channels, logs normalized events, and
// shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/coachpo/marketwire/internal/auth"
	"github.com/coachpo/marketwire/internal/config"
	"github.com/coachpo/marketwire/internal/logging"
	"github.com/coachpo/marketwire/internal/manager"
	"github.com/coachpo/marketwire/internal/orders"
	"github.com/coachpo/marketwire/internal/schema"
	"github.com/coachpo/marketwire/internal/sequence"
	"github.com/coachpo/marketwire/internal/subs"
	"github.com/coachpo/marketwire/internal/telemetry"
	"github.com/coachpo/marketwire/internal/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	channels := flag.String("channels", "ticker", "comma-separated channels to subscribe")
	symbols := flag.String("symbols", "BTC/USD", "comma-separated symbols for data channels")
	flag.Parse()

	// Optional .env for credentials; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("configuration invalid")
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownMetrics, err := setupMetrics(ctx, cfg.Telemetry)
		if err != nil {
			log.WithError(err).Fatal("telemetry setup failed")
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := shutdownMetrics(flushCtx); err != nil {
				log.WithError(err).Warn("metrics flush failed")
			}
		}()
	}

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		endpoint := newRESTTokenEndpoint(cfg.Auth.RESTBaseURL, cfg.Auth.TokenPath,
			envCredentials{getenv: os.Getenv}, hmacSigner{})
		authenticator = auth.New(endpoint, auth.Config{
			SafetyMargin: cfg.Auth.SafetyMargin.Std(),
			RetryInitial: cfg.Auth.RetryInitial.Std(),
			RetryMax:     cfg.Auth.RetryMax.Std(),
			OnToken:      nil,
		}, log)
	}

	m := manager.New(managerConfig(cfg), authenticator, log)
	m.OnError(func(err error) {
		log.WithError(err).Warn("client error")
	})
	registerEventLogging(m, log)

	if err := m.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to establish session")
	}
	log.WithField("url", cfg.Websocket.URL).Info("session established")

	symbolList := splitList(*symbols)
	for _, channel := range splitList(*channels) {
		if err := m.SubscribeChannel(ctx, channel, subs.Params{
			Symbols:  symbolList,
			Depth:    0,
			Interval: 0,
			Snapshot: nil,
		}); err != nil {
			log.WithError(err).WithField("channel", channel).Error("subscribe failed")
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

func managerConfig(cfg config.Config) manager.Config {
	return manager.Config{
		Transport: transport.Config{
			URL:          cfg.Websocket.URL,
			DialTimeout:  cfg.Websocket.DialTimeout.Std(),
			WriteTimeout: cfg.Websocket.WriteTimeout.Std(),
			AuthTimeout:  cfg.Websocket.AuthTimeout.Std(),
			PingInterval: cfg.Websocket.PingInterval.Std(),
			StaleAfter:   cfg.Websocket.StaleAfter.Std(),
			PendingLimit: cfg.Websocket.PendingLimit,
		},
		PrivateURL: cfg.Websocket.PrivateURL,
		Reconnect: manager.ReconnectConfig{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay.Std(),
			MaxDelay:    cfg.Reconnect.MaxDelay.Std(),
			Growth:      cfg.Reconnect.Growth,
		},
		Subscriptions: subs.Config{
			MaxOps:      cfg.Subscriptions.MaxOps,
			Window:      cfg.Subscriptions.Window.Std(),
			ReplayDelay: cfg.Subscriptions.ReplayDelay.Std(),
		},
		Orders: orders.Config{
			Timeout:    cfg.Orders.Timeout.Std(),
			HistoryCap: cfg.Orders.HistoryCap,
			OnUpdate:   nil,
		},
		Sequence: []sequence.Option{
			sequence.WithBufferCapacity(cfg.Dispatch.BufferCap),
			sequence.WithBufferTTL(cfg.Dispatch.BufferTTL.Std()),
		},
		QueueSize:      cfg.Dispatch.QueueSize,
		WorkerQueue:    cfg.Dispatch.WorkerQueue,
		SweepInterval:  cfg.Dispatch.SweepInterval.Std(),
		HandlerTimeout: cfg.Dispatch.CallbackTimeout.Std(),
	}
}

func setupMetrics(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("marketwire"),
		telemetry.AttrEnvironment.String(telemetry.Environment()),
	))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.Interval.Std()))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

func registerEventLogging(m *manager.Manager, log logrus.FieldLogger) {
	logEvent := func(event manager.Event) {
		log.WithFields(logrus.Fields{
			"type":     string(event.Type),
			"channel":  event.Channel,
			"sequence": event.Sequence,
		}).Info("event")
	}
	for _, eventType := range []schema.EventType{
		schema.EventTypeTicker,
		schema.EventTypeBook,
		schema.EventTypeTrade,
		schema.EventTypeOHLC,
		schema.EventTypeBalance,
		schema.EventTypeOrderUpdate,
		schema.EventTypeStatus,
		schema.EventTypeSubscriptionSuccess,
		schema.EventTypeSubscriptionError,
	} {
		m.RegisterHandler(eventType, logEvent)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
