package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "broker-auth-service"

type AppMetrics struct {
	loginCounter        metric.Int64Counter
	registerCounter     metric.Int64Counter
	sessionIssued       metric.Int64Counter
	sessionVerification metric.Int64Counter
	sessionRevocation   metric.Int64Counter
	resetRequestCounter metric.Int64Counter
	resetRedeemCounter  metric.Int64Counter
	sweeperRuns         metric.Int64Counter
	sweeperDeleted      metric.Int64Counter
	notifyCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics

	repoMetricsOnce sync.Once
	repoCounter     metric.Int64Counter

	rateLimitOnce       sync.Once
	rateLimitCounter    metric.Int64Counter
	rateLimitRetryHist  metric.Float64Histogram
	securityBypassCount metric.Int64Counter
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &AppMetrics{}
	if m.loginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.registerCounter, err = meter.Int64Counter("auth.register.attempts"); err != nil {
		return nil, err
	}
	if m.sessionIssued, err = meter.Int64Counter("session.issued"); err != nil {
		return nil, err
	}
	if m.sessionVerification, err = meter.Int64Counter("session.verifications"); err != nil {
		return nil, err
	}
	if m.sessionRevocation, err = meter.Int64Counter("session.revocations"); err != nil {
		return nil, err
	}
	if m.resetRequestCounter, err = meter.Int64Counter("password_reset.requests"); err != nil {
		return nil, err
	}
	if m.resetRedeemCounter, err = meter.Int64Counter("password_reset.redemptions"); err != nil {
		return nil, err
	}
	if m.sweeperRuns, err = meter.Int64Counter("sweeper.runs"); err != nil {
		return nil, err
	}
	if m.sweeperDeleted, err = meter.Int64Counter("sweeper.deleted_sessions"); err != nil {
		return nil, err
	}
	if m.notifyCounter, err = meter.Int64Counter("notification.deliveries"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRegister(status string) {
	m := current()
	if m == nil {
		return
	}
	m.registerCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSessionIssued tracks issuance with the eviction that made room:
// "none", "same_device", or "lru".
func RecordSessionIssued(ctx context.Context, eviction string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("eviction", eviction)))
}

func RecordSessionVerification(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionVerification.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordSessionRevocation(ctx context.Context, result string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionRevocation.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func RecordPasswordResetRequest(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.resetRequestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordPasswordResetRedemption(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.resetRedeemCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordSweeperRun(ctx context.Context, outcome string, deleted int64) {
	m := current()
	if m == nil {
		return
	}
	m.sweeperRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if deleted > 0 {
		m.sweeperDeleted.Add(ctx, deleted)
	}
}

func RecordNotificationDelivery(ctx context.Context, channel string, delivered bool) {
	m := current()
	if m == nil {
		return
	}
	m.notifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("delivered", delivered),
	))
}

// RecordRepositoryOperation uses a lazily created counter so repositories can
// run (and tests can exercise them) before InitMetrics is called.
func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repoMetricsOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("repository.operations")
		if err == nil {
			repoCounter = counter
		}
	})
	if repoCounter == nil {
		return
	}
	repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func initRateLimitInstruments() {
	rateLimitOnce.Do(func() {
		meter := otel.Meter(meterName)
		if c, err := meter.Int64Counter("ratelimit.decisions"); err == nil {
			rateLimitCounter = c
		}
		if h, err := meter.Float64Histogram("ratelimit.retry_after_seconds"); err == nil {
			rateLimitRetryHist = h
		}
		if c, err := meter.Int64Counter("security.bypass.events"); err == nil {
			securityBypassCount = c
		}
	})
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode, keyType string) {
	initRateLimitInstruments()
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, retryAfter time.Duration) {
	initRateLimitInstruments()
	if rateLimitRetryHist == nil {
		return
	}
	rateLimitRetryHist.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
	))
}

func RecordSecurityBypassEvent(ctx context.Context, reason, scope string) {
	initRateLimitInstruments()
	if securityBypassCount == nil {
		return
	}
	securityBypassCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("scope", scope),
	))
}
