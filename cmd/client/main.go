// Command client is a headless room participant. It shares or joins a
// workspace folder and keeps it in sync until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/app"
	"gihan9a/roomsync/internal/config"
	"gihan9a/roomsync/internal/connector"
	"gihan9a/roomsync/internal/logger"
	"gihan9a/roomsync/internal/peer"
	"gihan9a/roomsync/internal/server"
	"gihan9a/roomsync/internal/session"
	"gihan9a/roomsync/internal/transport"
)

const connectTimeout = 30 * time.Second

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("Error parsing configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zl.Sync()

	deps := connector.Deps{Logger: zl, Watch: true}
	if cfg.Client.Connector == config.ConnectorLocal {
		// The local connector talks to a relay embedded in this process.
		relay, err := server.NewRelayServer(cfg, zl, nil)
		if err != nil {
			zl.Fatal("failed to create relay", zap.Error(err))
		}
		defer relay.Close()
		deps.Relay = relay
	}

	conn, err := connector.New(cfg.Client, deps)
	if err != nil {
		zl.Fatal("failed to create connector", zap.Error(err))
	}

	prompter := session.StaticPrompter{
		Username: cfg.Client.Username,
		Room:     cfg.Client.Room,
		Password: cfg.Client.Password,
	}
	sessions := session.NewManager(conn, prompter, zl)
	defer sessions.Close()

	done := make(chan struct{})
	finish := sync.OnceFunc(func() { close(done) })
	sessions.AddListener(session.Listener{
		OnAddSession: func(s *session.Session) { watch(s, zl) },
		OnRemoveSession: func(s *session.Session) {
			zl.Info("session removed", zap.String("room", s.Room()))
			finish()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	facade := app.NewFacade(sessions, cfg.Client.Workspace, zl)
	if cfg.Client.Owner {
		_, err = facade.StartSession(ctx)
	} else {
		_, err = facade.JoinSession(ctx, []string{cfg.Client.Workspace})
	}
	cancel()
	if err != nil {
		zl.Fatal("failed to enter room", zap.Error(err))
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	select {
	case <-signals:
		zl.Info("leaving room")
	case <-done:
	}
}

// watch logs the connection and peer activity of s
func watch(s *session.Session, zl *zap.Logger) {
	zl = zl.With(zap.String("room", s.Room()))
	s.Provider().AddListener(transport.Listener{
		OnStatus: func(status transport.Status) {
			zl.Info("connection status", zap.String("status", string(status)))
		},
		OnSynced: func(synced bool) {
			zl.Debug("synced", zap.Bool("synced", synced))
		},
	})
	s.PeerManager().AddListener(peer.Listener{
		OnPeerAdded:   func(p peer.Peer) { zl.Info("peer joined", zap.String("peer", p.Name)) },
		OnPeerRemoved: func(p peer.Peer) { zl.Info("peer left", zap.String("peer", p.Name)) },
	})
}
