package worker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/agent"
	"github.com/strobehq/strobe/internal/types"
)

func TestSpawnAndStopRealProcess(t *testing.T) {
	w := New(nil, nil)
	pid, err := w.Spawn(nil, "/bin/sleep", []string{"5"})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	require.True(t, w.isAlive())
	require.NoError(t, w.Stop())
}

func TestStopOnAlreadyExitedProcessDoesNotBlock(t *testing.T) {
	w := New(nil, nil)
	_, err := w.Spawn(nil, "/bin/true", nil)
	require.NoError(t, err)

	// Give the process a moment to exit on its own before Stop runs; the
	// invariant under test is that Stop still returns promptly even when
	// the pid is already gone, not that this race is deterministic.
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a dead pid")
	}
}

func TestReadWriteMemoryRoundTripsThroughAgentConn(t *testing.T) {
	daemonSide, agentSide := net.Pipe()
	t.Cleanup(func() { daemonSide.Close(); agentSide.Close() })

	w := New(nil, nil)
	w.AttachAgent(agent.NewConn(daemonSide))

	fakeAgent := agent.NewConn(agentSide)
	go func() {
		req, err := fakeAgent.Receive()
		if err != nil {
			return
		}
		require.Equal(t, agent.MsgMemoryRequest, req.Type)
		require.Len(t, req.MemoryTargets, 1)
		fakeAgent.Send(&agent.Envelope{
			Type: agent.MsgMemoryResult,
			MemoryResults: []types.MemoryResult{
				{Target: "counter", Value: &types.Value{Type: "int", String: "42"}},
			},
		})
	}()

	results, err := w.ReadWriteMemory([]types.MemoryTarget{{Variable: "counter"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "counter", results[0].Target)
	require.Equal(t, "42", results[0].Value.String)
}
