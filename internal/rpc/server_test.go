package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/dwarf"
	"github.com/strobehq/strobe/internal/eventstore"
	"github.com/strobehq/strobe/internal/session"
)

// TestServeDrivesARealSocketHandshakeAndHealthCall exercises the daemon
// end to end the way a real client would: dial the Unix socket, perform
// the MCP initialize handshake, then call the health tool, all over one
// persistent connection.
func TestServeDrivesARealSocketHandshakeAndHealthCall(t *testing.T) {
	store, err := eventstore.Open(context.Background(), eventstore.Options{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := dwarf.NewCache(8)
	require.NoError(t, err)

	dispatcher := NewDispatcher(session.New(), store, cache)
	socketPath := filepath.Join(t.TempDir(), "strobed.sock")

	server, err := NewServer(socketPath, dispatcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		server.Close()
		<-serveErr
	})

	conn, err := dialRPC(socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)

	handshake := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"server-test","version":"1.0.0"}}}` + "\n"
	_, err = conn.Write([]byte(handshake))
	require.NoError(t, err)

	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var handshakeResp map[string]any
	require.NoError(t, json.Unmarshal(line, &handshakeResp))
	require.NotNil(t, handshakeResp["result"])

	healthCall := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"health","arguments":{}}}` + "\n"
	_, err = conn.Write([]byte(healthCall))
	require.NoError(t, err)

	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	var healthResp map[string]any
	require.NoError(t, json.Unmarshal(line, &healthResp))
	require.NotNil(t, healthResp["result"])

	require.Equal(t, int32(1), server.ActiveConnections())
}

func TestConnectionSemaphoreReleasesOnDisconnect(t *testing.T) {
	store, err := eventstore.Open(context.Background(), eventstore.Options{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := dwarf.NewCache(8)
	require.NoError(t, err)

	dispatcher := NewDispatcher(session.New(), store, cache)
	socketPath := filepath.Join(t.TempDir(), "strobed.sock")

	server, err := NewServer(socketPath, dispatcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		server.Close()
		<-serveErr
	})

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := dialRPC(socketPath, 200*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 20*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return server.ActiveConnections() == 0
	}, time.Second, 20*time.Millisecond)
}
