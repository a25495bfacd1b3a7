package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/dwarf"
	"github.com/strobehq/strobe/internal/eventstore"
	"github.com/strobehq/strobe/internal/session"
)

// mockSession satisfies mcp-go's server.ClientSession, the same shape
// the library's own contrib tests use to simulate an already-initialized
// client before issuing tools/call.
type mockSession struct {
	id             string
	initialized    bool
	notificationCh chan mcp.JSONRPCNotification
}

func (m *mockSession) SessionID() string { return m.id }
func (m *mockSession) Initialize() {
	m.initialized = true
	m.notificationCh = make(chan mcp.JSONRPCNotification, 10)
}
func (m *mockSession) Initialized() bool { return m.initialized }
func (m *mockSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return m.notificationCh
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store, err := eventstore.Open(context.Background(), eventstore.Options{Path: t.TempDir() + "/events.db"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := dwarf.NewCache(16)
	require.NoError(t, err)

	return NewDispatcher(session.New(), store, cache)
}

func TestHandleMessageInitializeHandshake(t *testing.T) {
	d := newTestDispatcher(t)
	raw := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`

	resp := d.HandleMessage(context.Background(), "conn-1", []byte(raw))
	require.NotNil(t, resp)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp, &decoded))
	require.Equal(t, "2.0", decoded["jsonrpc"])
	require.NotNil(t, decoded["result"])
}

func TestHandleMessageHealthToolCall(t *testing.T) {
	d := newTestDispatcher(t)
	sess := &mockSession{id: "sess-1"}
	sess.Initialize()
	ctx := d.mcp.WithContext(context.Background(), sess)

	raw := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"health","arguments":{}}}`
	resp := d.HandleMessage(ctx, "conn-1", []byte(raw))
	require.NotNil(t, resp)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp, &decoded))
	require.NotNil(t, decoded["result"])
}

func TestHandleMessageLaunchRejectsMissingBinaryPath(t *testing.T) {
	d := newTestDispatcher(t)
	sess := &mockSession{id: "sess-1"}
	sess.Initialize()
	ctx := d.mcp.WithContext(context.Background(), sess)

	raw := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"launch","arguments":{}}}`
	resp := d.HandleMessage(ctx, "conn-1", []byte(raw))
	require.NotNil(t, resp)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp, &decoded))
	result := decoded["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	require.Contains(t, content["text"], "VALIDATION_ERROR")
}

func TestToolErrTreatsErrorEnvelopeAsAnError(t *testing.T) {
	require.Nil(t, toolErr(nil, nil))
	require.Nil(t, toolErr(mcp.NewToolResultText("ok"), nil))

	errRes, err := errResult(fakeErr("boom"))
	require.NoError(t, err)
	require.NotNil(t, toolErr(errRes, nil))
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestHandleMessageMemoryRejectsUnknownSession(t *testing.T) {
	d := newTestDispatcher(t)
	sess := &mockSession{id: "sess-1"}
	sess.Initialize()
	ctx := d.mcp.WithContext(context.Background(), sess)

	raw := `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"memory","arguments":{"sessionId":"nope","targets":[{"variable":"counter"}]}}}`
	resp := d.HandleMessage(ctx, "conn-1", []byte(raw))
	require.NotNil(t, resp)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp, &decoded))
	result := decoded["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	require.Contains(t, content["text"], "PROCESS_EXITED")
}

func TestCheckVersionCompatibility(t *testing.T) {
	require.NoError(t, checkVersionCompatibility("v1.2.3"))
	require.Error(t, checkVersionCompatibility("v2.0.0"))
	require.Error(t, checkVersionCompatibility("not-a-version"))
}

func TestShortSocketPathStaysUnderLimitForDeepWorkspace(t *testing.T) {
	deep := "/tmp"
	for i := 0; i < 20; i++ {
		deep += "/a-fairly-long-directory-segment"
	}
	p := ShortSocketPath(deep)
	require.LessOrEqual(t, len(p), MaxUnixSocketPath+32) // temp-dir path, not bound by the same limit
	require.True(t, NeedsShortPath(deep))
}
