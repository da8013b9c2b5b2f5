package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"gihan9a/roomsync/internal/config"
	"gihan9a/roomsync/internal/logger"
	"gihan9a/roomsync/internal/server"
	"gihan9a/roomsync/internal/tls"
)

func main() {
	// Parse command line flags and get configuration
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("Error parsing configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zl.Sync()

	// Set up the TLS certificate if needed
	if cfg.TLS.Enabled && cfg.TLS.GenerateCert {
		if err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, zl); err != nil {
			zl.Fatal("failed to set up TLS certificate", zap.Error(err))
		}
	}

	// Join the other relays when redis is configured
	var cluster server.ClusterBus
	if cfg.Server.RedisURL != "" {
		bus, err := server.NewRedisBus(context.Background(), cfg.Server.RedisURL, zl)
		if err != nil {
			zl.Fatal("failed to connect cluster bus", zap.Error(err))
		}
		defer bus.Close()
		cluster = bus
	}

	// Create server
	relay, err := server.NewRelayServer(cfg, zl, cluster)
	if err != nil {
		zl.Fatal("failed to create relay", zap.Error(err))
	}
	defer relay.Close()

	// Set up HTTP router
	router := relay.SetupRoutes()

	// Start server with or without TLS
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.TLS.Enabled {
		zl.Info("relay running",
			zap.String("url", "wss://localhost"+addr),
			zap.String("cert", cfg.TLS.CertFile),
			zap.String("key", cfg.TLS.KeyFile),
			zap.Bool("cluster", cluster != nil))
		err = http.ListenAndServeTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, router)
	} else {
		zl.Info("relay running",
			zap.String("url", "ws://localhost"+addr),
			zap.Bool("cluster", cluster != nil))
		err = http.ListenAndServe(addr, router)
	}
	zl.Fatal("relay stopped", zap.Error(err))
}
