// Package telemetry wires Strobe's OpenTelemetry metric and trace
// providers: a stdout exporter pair by default so a standalone daemon
// emits something useful with no collector running, and an
// otlpmetrichttp exporter for metrics when telemetry.otlpEndpoint names
// a collector. Tracing always exports to stdout — the daemon's spans
// are diagnostic, not a production trace pipeline.
//
// Init is idempotent: the first call wins for the process lifetime, and
// every other package records against whatever provider that call
// installed (or the SDK's no-op default if telemetry is disabled).
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ExportInterval is how often the metric PeriodicReader flushes.
const ExportInterval = 15 * time.Second

// TracerName is the tracer every span in the daemon is drawn from.
const TracerName = "github.com/strobehq/strobe"

var (
	initMu         sync.Mutex
	initDone       bool
	globalProvider *Provider
)

// Provider owns every SDK provider Init installed and tears them down
// together on Shutdown.
type Provider struct {
	shutdowns    []func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes and closes every provider Init installed. Safe to
// call more than once or on a nil Provider (Init returns nil when
// telemetry is disabled).
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}
	return nil
}

// Init installs the metric and trace providers described in enabled /
// otlpTarget and returns a Provider to Shutdown at daemon exit. When
// enabled is false it returns (nil, nil): every Record* call elsewhere
// in the daemon is nil-safe against the SDK's no-op default, so callers
// never need to branch on whether telemetry is on.
func Init(ctx context.Context, enabled bool, otlpTarget string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return globalProvider, nil
	}
	initDone = true
	if !enabled {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("strobed"),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	p := &Provider{}

	metricExp, err := newMetricExporter(ctx, otlpTarget)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(ExportInterval))),
	)
	otel.SetMeterProvider(mp)
	p.shutdowns = append(p.shutdowns, mp.Shutdown)

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetTracerProvider(tp)
	p.shutdowns = append(p.shutdowns, tp.Shutdown)

	initInstruments()
	globalProvider = p
	return p, nil
}

func newMetricExporter(ctx context.Context, otlpTarget string) (sdkmetric.Exporter, error) {
	if otlpTarget != "" {
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(otlpTarget))
	}
	return stdoutmetric.New()
}

// Tracer returns the daemon's single tracer, usable even before Init
// runs (it resolves against the no-op provider and yields no-op spans).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
