// Package connector builds sessions over one of the supported transports.
package connector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/awareness"
	"gihan9a/roomsync/internal/binding"
	"gihan9a/roomsync/internal/config"
	"gihan9a/roomsync/internal/editor"
	"gihan9a/roomsync/internal/peer"
	"gihan9a/roomsync/internal/replica"
	"gihan9a/roomsync/internal/server"
	"gihan9a/roomsync/internal/session"
	"gihan9a/roomsync/internal/share"
	"gihan9a/roomsync/internal/transport"
	"gihan9a/roomsync/internal/utils"
)

var (
	ErrUnknownConnector = errors.New("connector: unknown connector kind")
	// ErrNoRelay is returned when the local connector has no relay to join.
	ErrNoRelay = errors.New("connector: local connector needs an in-process relay")
)

// localEndpoint is the endpoint local providers dial. It only names the
// broadcast channel; the relay is reached through a pipe.
const localEndpoint = "local://relay"

// Deps are the collaborators a connector may need
type Deps struct {
	// Relay serves the local connector.
	Relay  *server.RelayServer
	Logger *zap.Logger
	// Watch starts a file watcher on the workspace of each session.
	Watch bool
}

// New returns the connector for cfg.Connector
func New(cfg config.ClientConfig, deps Deps) (session.Connector, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	b := builder{cfg: cfg, deps: deps}

	switch cfg.Connector {
	case config.ConnectorWebSocket:
		if cfg.Endpoint == nil {
			return nil, errors.New("connector: websocket connector needs an endpoint")
		}
		return WebSocket{builder: b}, nil
	case config.ConnectorLocal:
		if deps.Relay == nil {
			return nil, ErrNoRelay
		}
		return Local{builder: b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, cfg.Connector)
}

// WebSocket joins rooms on a remote relay
type WebSocket struct {
	builder
}

func (WebSocket) SupportsPassword() bool { return true }

func (c WebSocket) Connect(ctx context.Context, auth session.AuthInfo, isOwner bool, workspace string) (*session.Session, error) {
	dialer := transport.WebSocketDialer{}
	if auth.Password != "" {
		dialer = dialer.WithBasicAuth(auth.Username, auth.Password)
	}
	return c.build(ctx, auth, isOwner, workspace, c.cfg.Endpoint.String(), dialer)
}

// Local joins rooms on a relay in the same process
type Local struct {
	builder
}

func (Local) SupportsPassword() bool { return false }

func (c Local) Connect(ctx context.Context, auth session.AuthInfo, isOwner bool, workspace string) (*session.Session, error) {
	dialer := server.LocalDialer{Server: c.deps.Relay, Password: auth.Password}
	return c.build(ctx, auth, isOwner, workspace, localEndpoint, dialer)
}

type builder struct {
	cfg  config.ClientConfig
	deps Deps
}

// build assembles the document, presence, peers, share manager and
// provider of one session, and connects
func (b builder) build(ctx context.Context, auth session.AuthInfo, isOwner bool, workspace, endpoint string, dialer transport.Dialer) (*session.Session, error) {
	logger := b.deps.Logger.With(zap.String("room", auth.Room), zap.String("user", auth.Username))

	doc := replica.New(replica.ClientID(utils.RandomClientID()), logger)
	aw := awareness.New(doc.ClientID(), nil, logger)
	aw.SetLocalStateField("user", map[string]any{"name": auth.Username})

	peers := peer.NewManager(logger)
	stopFollow := peer.Follow(aw, peers)

	host := editor.NewFileHost(workspace, logger)
	shares := share.NewManager(doc, host, isOwner, binding.Options{
		MaxApplyAttempts: b.cfg.ApplyAttempts,
		RetryDelay:       b.cfg.ApplyRetryDelay,
		Logger:           logger,
	})

	provider := transport.NewProvider(endpoint, auth.Room, doc, transport.Options{
		Dialer:           dialer,
		Awareness:        aw,
		DisableBroadcast: b.cfg.DisableBroadcast,
		ResyncInterval:   b.cfg.ResyncInterval,
		MaxBackoff:       b.cfg.MaxBackoff,
		Logger:           logger,
	})

	cleanup := []func(){stopFollow, aw.Destroy}
	fail := func(err error) (*session.Session, error) {
		provider.Destroy()
		shares.Close()
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		return nil, err
	}

	if err := provider.Connect(ctx); err != nil {
		return fail(fmt.Errorf("connect to %s: %w", provider.URL(), err))
	}

	if b.deps.Watch && workspace != "" {
		watcher, err := share.NewWatcher(workspace, host, shares, logger)
		if err != nil {
			return fail(err)
		}
		cleanup = append(cleanup, func() {
			if err := watcher.Close(); err != nil {
				logger.Warn("closing watcher", zap.Error(err))
			}
		})
	}

	return session.New(session.Params{
		Room:     auth.Room,
		Username: auth.Username,
		IsOwner:  isOwner,
		Path:     workspace,
		Peers:    peers,
		Share:    shares,
		Provider: provider,
		OnClose:  cleanup,
	}), nil
}
