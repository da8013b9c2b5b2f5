package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	GenerateCert bool
}

// CORSConfig holds CORS configuration options for the relay
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// ServerConfig holds the relay server options
type ServerConfig struct {
	Port     int
	Password string
	RedisURL string
	NodeID   string
}

// ClientConfig holds the options of one collaborating participant
type ClientConfig struct {
	Endpoint         *url.URL
	Connector        string
	Room             string
	Username         string
	Password         string
	Workspace        string
	Owner            bool
	ResyncInterval   time.Duration
	MaxBackoff       time.Duration
	DisableBroadcast bool
	ApplyAttempts    int
	ApplyRetryDelay  time.Duration
}

// LogConfig holds logging options
type LogConfig struct {
	File       string
	Production bool
	Debug      bool
}

// Config holds the application configuration
type Config struct {
	Server ServerConfig
	Client ClientConfig
	TLS    TLSConfig
	CORS   CORSConfig
	Log    LogConfig
}

// RequiresPassword reports whether the configured connector asks for a
// room password. Only the socket connector carries credentials.
func (c *ClientConfig) RequiresPassword() bool {
	return c.Connector == ConnectorWebSocket
}

// Connector kinds
const (
	ConnectorWebSocket = "websocket"
	ConnectorLocal     = "local"
)

// ParseFlags parses command line flags and merges with config file
func ParseFlags(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("roomsync", pflag.ContinueOnError)

	configFlag := flags.String("config", "config.yml", "Path to configuration file")
	generateConfigFlag := flags.Bool("generate-config", false, "Generate a default configuration file")
	configFilePathFlag := flags.String("config-path", "config.yml", "Path where config file should be generated")

	// Simple flags for overriding config file
	portFlag := flags.IntP("port", "p", 0, "Port the relay listens on (overrides config)")
	endpointFlag := flags.String("endpoint", "", "Relay endpoint URL (overrides config)")
	roomFlag := flags.StringP("room", "r", "", "Room to join (overrides config)")
	userFlag := flags.StringP("user", "u", "", "Username shown to peers (overrides config)")
	workspaceFlag := flags.StringP("workspace", "w", "", "Workspace folder to share (overrides config)")
	ownerFlag := flags.Bool("owner", false, "Start the session as owner and share the workspace")
	connectorFlag := flags.String("connector", "", "Connector kind: websocket or local (overrides config)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Handle config file generation
	if *generateConfigFlag {
		log.Printf("Generating default configuration file at %s", *configFilePathFlag)
		if err := SaveDefaultConfig(*configFilePathFlag); err != nil {
			return nil, err
		}
		log.Printf("Configuration file generated successfully")
	}

	// Load configuration from file
	config, err := LoadConfig(*configFlag)
	if err != nil {
		log.Printf("Warning: Could not load config file: %v", err)
		log.Printf("Using default configuration")

		// If config file doesn't exist, use default config
		config, _ = LoadConfig("")
	}

	// Override with command line flags if provided
	if *portFlag != 0 {
		config.Server.Port = *portFlag
	}
	if *endpointFlag != "" {
		endpoint, err := url.Parse(*endpointFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint URL: %w", err)
		}
		config.Client.Endpoint = endpoint
	}
	if *roomFlag != "" {
		config.Client.Room = *roomFlag
	}
	if *userFlag != "" {
		config.Client.Username = *userFlag
	}
	if *workspaceFlag != "" {
		config.Client.Workspace = *workspaceFlag
	}
	if *connectorFlag != "" {
		config.Client.Connector = *connectorFlag
	}
	if *ownerFlag {
		config.Client.Owner = true
	}

	return config, nil
}
