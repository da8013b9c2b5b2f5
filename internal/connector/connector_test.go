package connector

import (
	"context"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gihan9a/roomsync/internal/config"
	"gihan9a/roomsync/internal/peer"
	"gihan9a/roomsync/internal/server"
	"gihan9a/roomsync/internal/session"
	"gihan9a/roomsync/internal/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type peerLog struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (l *peerLog) listener() peer.Listener {
	return peer.Listener{
		OnPeerAdded: func(p peer.Peer) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.added = append(l.added, p.Name)
		},
		OnPeerRemoved: func(p peer.Peer) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.removed = append(l.removed, p.Name)
		},
	}
}

func (l *peerLog) has(list *[]string, name string) func() bool {
	return func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, n := range *list {
			if n == name {
				return true
			}
		}
		return false
	}
}

func newRelay(t *testing.T, password string) *server.RelayServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Password = password
	relay, err := server.NewRelayServer(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(relay.Close)
	return relay
}

func clientConfig(kind string) config.ClientConfig {
	cfg := config.Default().Client
	cfg.Connector = kind
	cfg.DisableBroadcast = true
	return cfg
}

func connect(t *testing.T, c session.Connector, user string, owner bool, workspace string) *session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s, err := c.Connect(ctx, session.AuthInfo{Username: user, Room: "r1"}, owner, workspace)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func readFile(root, key string) func() string {
	return func() string {
		data, _ := os.ReadFile(filepath.Join(root, key))
		return string(data)
	}
}

func TestNew(t *testing.T) {
	_, err := New(clientConfig("carrier-pigeon"), Deps{})
	assert.ErrorIs(t, err, ErrUnknownConnector)

	_, err = New(clientConfig(config.ConnectorLocal), Deps{})
	assert.ErrorIs(t, err, ErrNoRelay)

	cfg := clientConfig(config.ConnectorWebSocket)
	cfg.Endpoint = nil
	_, err = New(cfg, Deps{})
	assert.Error(t, err)

	ws, err := New(clientConfig(config.ConnectorWebSocket), Deps{})
	require.NoError(t, err)
	assert.True(t, ws.SupportsPassword())

	local, err := New(clientConfig(config.ConnectorLocal), Deps{Relay: newRelay(t, "")})
	require.NoError(t, err)
	assert.False(t, local.SupportsPassword())
}

func TestTypingReachesPeerAndPresenceFollows(t *testing.T) {
	relay := newRelay(t, "")
	c, err := New(clientConfig(config.ConnectorLocal), Deps{Relay: relay})
	require.NoError(t, err)

	aliceRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(aliceRoot, "a.txt"), nil, 0644))
	alice := connect(t, c, "alice", true, aliceRoot)
	require.NoError(t, alice.ShareManager().ShareWorkspace(context.Background()))

	log := &peerLog{}
	alice.PeerManager().AddListener(log.listener())

	bobRoot := t.TempDir()
	bob := connect(t, c, "bob", false, bobRoot)
	require.Eventually(t, log.has(&log.added, "bob"), waitFor, tick)
	require.Eventually(t, func() bool {
		_, ok := bob.ShareManager().Binder("a.txt")
		return ok
	}, waitFor, tick)

	require.NoError(t, os.WriteFile(filepath.Join(bobRoot, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, bob.ShareManager().OnLocalFileChanged(context.Background(), "a.txt"))
	require.Eventually(t, func() bool { return readFile(aliceRoot, "a.txt")() == "hello" }, waitFor, tick)

	// The socket drops without a goodbye.
	bob.Provider().Disconnect()
	require.Eventually(t, log.has(&log.removed, "bob"), waitFor, tick)
	assert.Empty(t, alice.Peers())
}

func TestGuestReceivesWorkspace(t *testing.T) {
	relay := newRelay(t, "")
	c, err := New(clientConfig(config.ConnectorLocal), Deps{Relay: relay, Watch: true})
	require.NoError(t, err)

	aliceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(aliceRoot, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(aliceRoot, "src", "main.go"), []byte("package main"), 0644))
	alice := connect(t, c, "alice", true, aliceRoot)
	require.NoError(t, alice.ShareManager().ShareWorkspace(context.Background()))

	bobRoot := t.TempDir()
	connect(t, c, "bob", false, bobRoot)
	require.Eventually(t, func() bool { return readFile(bobRoot, "src/main.go")() == "package main" }, waitFor, tick)

	// With watchers running, a plain disk write travels on its own.
	require.NoError(t, os.WriteFile(filepath.Join(aliceRoot, "src", "main.go"), []byte("package main\n\nfunc main() {}"), 0644))
	require.Eventually(t, func() bool {
		return readFile(bobRoot, "src/main.go")() == "package main\n\nfunc main() {}"
	}, waitFor, tick)
}

func TestWebSocketConnector(t *testing.T) {
	relay := newRelay(t, "secret")
	ts := httptest.NewServer(relay.SetupRoutes())
	defer ts.Close()

	cfg := clientConfig(config.ConnectorWebSocket)
	endpoint, err := url.Parse("ws" + strings.TrimPrefix(ts.URL, "http"))
	require.NoError(t, err)
	cfg.Endpoint = endpoint
	c, err := New(cfg, Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = c.Connect(ctx, session.AuthInfo{Username: "alice", Room: "r1", Password: "wrong"}, true, t.TempDir())
	assert.ErrorIs(t, err, transport.ErrPermissionDenied)

	s, err := c.Connect(ctx, session.AuthInfo{Username: "alice", Room: "r1", Password: "secret"}, true, t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Provider().Connected())
}
