package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRecordFunctionsAreNilSafeBeforeInit exercises every Record* call
// against the SDK's default no-op provider, the state a package is in
// before daemon startup runs telemetry.Init (or when telemetry is
// disabled). None of these should panic or block.
func TestRecordFunctionsAreNilSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	require.NotPanics(t, func() {
		RecordEventsIngested(ctx, "sess-1", 3)
		RecordEventsDropped(ctx, "sess-1", 2)
		RecordHooksInstalled(ctx, "sess-1", 5)
		RecordRPCRequest(ctx, "launch", nil)
		RecordRPCRequest(ctx, "launch", errors.New("boom"))
		RecordDWARFCacheHit(ctx)
		RecordDWARFCacheMiss(ctx)
		RecordAgentRoundTrip(ctx, "memory", 12.5, nil)
	})
}

func TestInitDisabledReturnsNilProviderAndNilError(t *testing.T) {
	initMu.Lock()
	initDone = false
	globalProvider = nil
	initMu.Unlock()

	p, err := Init(context.Background(), false, "")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestShutdownOnNilProviderIsANoOp(t *testing.T) {
	var p *Provider
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTracerResolvesWithoutInit(t *testing.T) {
	require.NotNil(t, Tracer())
}
