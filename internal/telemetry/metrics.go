package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/academy"
)

// Metrics holds the site's OpenTelemetry instruments.
type Metrics struct {
	// Access guard
	GuardDecisionsTotal metric.Int64Counter

	// Sessions
	SessionsCreatedTotal metric.Int64Counter

	// Browser web vitals
	WebVitals              metric.Float64Histogram
	WebVitalsRejectedTotal metric.Int64Counter

	// Payments
	CheckoutsCreatedTotal  metric.Int64Counter
	CheckoutsCapturedTotal metric.Int64Counter
	CheckoutErrorsTotal    metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments created before InitTelemetry are delegated to the provider it installs.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = newMetrics(otel.GetMeterProvider().Meter(meterName))
	})
	return metrics
}

func newMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}

	m.GuardDecisionsTotal, _ = meter.Int64Counter(
		"academy.guard.decisions.total",
		metric.WithDescription("Access guard decisions by outcome"),
		metric.WithUnit("{decision}"),
	)

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"academy.sessions.created.total",
		metric.WithDescription("Sessions created after a successful sign-in"),
		metric.WithUnit("{session}"),
	)

	m.WebVitals, _ = meter.Float64Histogram(
		"academy.web_vitals.value",
		metric.WithDescription("Web vitals reported by browsers"),
	)

	m.WebVitalsRejectedTotal, _ = meter.Int64Counter(
		"academy.web_vitals.rejected.total",
		metric.WithDescription("Malformed web vitals reports"),
		metric.WithUnit("{report}"),
	)

	m.CheckoutsCreatedTotal, _ = meter.Int64Counter(
		"academy.checkouts.created.total",
		metric.WithDescription("Payment orders created"),
		metric.WithUnit("{order}"),
	)

	m.CheckoutsCapturedTotal, _ = meter.Int64Counter(
		"academy.checkouts.captured.total",
		metric.WithDescription("Payment orders captured and turned into enrollments"),
		metric.WithUnit("{order}"),
	)

	m.CheckoutErrorsTotal, _ = meter.Int64Counter(
		"academy.checkouts.errors.total",
		metric.WithDescription("Payment provider failures"),
		metric.WithUnit("{error}"),
	)

	return m
}

// RecordGuardDecision counts an access guard outcome.
func RecordGuardDecision(ctx context.Context, outcome string) {
	GetMetrics().GuardDecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Checkout steps recorded by RecordCheckout. The *Failed steps and CheckoutMismatch are
// counted as errors labelled with the step.
const (
	CheckoutCreated       = "created"
	CheckoutCaptured      = "captured"
	CheckoutCreateFailed  = "create_failed"
	CheckoutCaptureFailed = "capture_failed"
	CheckoutMismatch      = "mismatch"
	CheckoutEnrollFailed  = "enroll_failed"
)

// RecordCheckout counts a checkout step.
func RecordCheckout(ctx context.Context, step string) {
	GetMetrics().RecordCheckout(ctx, step)
}

func (m *Metrics) RecordCheckout(ctx context.Context, step string) {
	switch step {
	case CheckoutCreated:
		m.CheckoutsCreatedTotal.Add(ctx, 1)
	case CheckoutCaptured:
		m.CheckoutsCapturedTotal.Add(ctx, 1)
	default:
		m.CheckoutErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	}
}
