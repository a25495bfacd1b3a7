package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/strobehq/strobe"

// instruments holds every metric instrument the daemon records against,
// lazily bound to whatever MeterProvider is current when first used.
// Every Record* function below is nil-safe in the sense that it works
// against the SDK's no-op meter when Init was never called, so callers
// never need to check whether telemetry is enabled.
type instruments struct {
	eventsIngested metric.Int64Counter
	eventsDropped  metric.Int64Counter
	hooksInstalled metric.Int64Counter
	rpcRequests    metric.Int64Counter
	rpcErrors      metric.Int64Counter
	dwarfCacheHits metric.Int64Counter
	dwarfCacheMiss metric.Int64Counter

	agentRoundTrip metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers every instrument against the meter
// currently installed. Called once by Init and, as a safety net, lazily
// by the first Record* call if Init was never invoked — either way the
// instruments bind to whatever provider (real or no-op) otel resolves.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.eventsIngested, _ = m.Int64Counter("strobe.events.ingested.total",
			metric.WithDescription("Total execution-timeline events accepted into the event store"),
		)
		inst.eventsDropped, _ = m.Int64Counter("strobe.events.dropped.total",
			metric.WithDescription("Total events evicted by a session's FIFO bound"),
		)
		inst.hooksInstalled, _ = m.Int64Counter("strobe.hooks.installed.total",
			metric.WithDescription("Total function hooks installed via trace_add"),
		)
		inst.rpcRequests, _ = m.Int64Counter("strobe.rpc.requests.total",
			metric.WithDescription("Total RPC tool calls handled"),
		)
		inst.rpcErrors, _ = m.Int64Counter("strobe.rpc.errors.total",
			metric.WithDescription("Total RPC tool calls that returned a taxonomy error"),
		)
		inst.dwarfCacheHits, _ = m.Int64Counter("strobe.dwarf.cache.hits.total",
			metric.WithDescription("Total DWARF index cache hits"),
		)
		inst.dwarfCacheMiss, _ = m.Int64Counter("strobe.dwarf.cache.misses.total",
			metric.WithDescription("Total DWARF index cache misses requiring a fresh parse"),
		)
		inst.agentRoundTrip, _ = m.Float64Histogram("strobe.agent.round_trip.ms",
			metric.WithDescription("Agent protocol request/reply round-trip latency"),
			metric.WithUnit("ms"),
		)
	})
}

// RecordEventsIngested records n events accepted for sessionID.
func RecordEventsIngested(ctx context.Context, sessionID string, n int64) {
	initInstruments()
	if n <= 0 {
		return
	}
	inst.eventsIngested.Add(ctx, n, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

// RecordEventsDropped records n events evicted by a session's FIFO bound.
func RecordEventsDropped(ctx context.Context, sessionID string, n int64) {
	initInstruments()
	if n <= 0 {
		return
	}
	inst.eventsDropped.Add(ctx, n, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

// RecordHooksInstalled records n function hooks installed for sessionID.
func RecordHooksInstalled(ctx context.Context, sessionID string, n int) {
	initInstruments()
	if n <= 0 {
		return
	}
	inst.hooksInstalled.Add(ctx, int64(n), metric.WithAttributes(attribute.String("session_id", sessionID)))
}

// RecordRPCRequest records one RPC tool call, labeled by tool name and
// outcome, incrementing the error counter too when err is non-nil.
func RecordRPCRequest(ctx context.Context, tool string, err error) {
	initInstruments()
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	inst.rpcRequests.Add(ctx, 1, attrs)
	if err != nil {
		inst.rpcErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// RecordDWARFCacheHit records one DWARF index cache hit.
func RecordDWARFCacheHit(ctx context.Context) {
	initInstruments()
	inst.dwarfCacheHits.Add(ctx, 1)
}

// RecordDWARFCacheMiss records one DWARF index cache miss.
func RecordDWARFCacheMiss(ctx context.Context) {
	initInstruments()
	inst.dwarfCacheMiss.Add(ctx, 1)
}

// RecordAgentRoundTrip records one agent protocol request/reply latency
// in milliseconds, labeled by the kind of request (e.g. "memory").
func RecordAgentRoundTrip(ctx context.Context, kind string, durationMs float64, err error) {
	initInstruments()
	status := "ok"
	if err != nil {
		status = "error"
	}
	inst.agentRoundTrip.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}
