package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability owns the OpenTelemetry meter used for latency histograms.
// The zero value is usable and records nothing.
type Observability struct {
	meterProvider    *metric.MeterProvider
	checkoutDuration otelmetric.Float64Histogram
	paymentDuration  otelmetric.Float64Histogram
	kitchenLag       otelmetric.Float64Histogram
}

func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return &Observability{}, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	checkoutDuration, _ := meter.Float64Histogram(
		"checkout.duration",
		otelmetric.WithDescription("Checkout processing duration"),
		otelmetric.WithUnit("ms"),
	)
	paymentDuration, _ := meter.Float64Histogram(
		"payment.request.duration",
		otelmetric.WithDescription("Mobile money push round trip"),
		otelmetric.WithUnit("ms"),
	)
	kitchenLag, _ := meter.Float64Histogram(
		"kitchen.event.lag",
		otelmetric.WithDescription("Delay between order creation and its appearance on a kitchen display"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:    provider,
		checkoutDuration: checkoutDuration,
		paymentDuration:  paymentDuration,
		kitchenLag:       kitchenLag,
	}, nil
}

func (o *Observability) RecordCheckout(ctx context.Context, d time.Duration, outcome string) {
	if o == nil || o.checkoutDuration == nil {
		return
	}
	o.checkoutDuration.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordPaymentRequest(ctx context.Context, d time.Duration, outcome string) {
	if o == nil || o.paymentDuration == nil {
		return
	}
	o.paymentDuration.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordKitchenLag(ctx context.Context, d time.Duration, branchID string) {
	if o == nil || o.kitchenLag == nil {
		return
	}
	o.kitchenLag.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("branch", branchID),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
