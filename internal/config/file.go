package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structure of the configuration file
type FileConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		RedisURL string `yaml:"redis_url"`
		NodeID   string `yaml:"node_id"`
	} `yaml:"server"`

	Client struct {
		Endpoint         string `yaml:"endpoint"`
		Connector        string `yaml:"connector"`
		Room             string `yaml:"room"`
		Username         string `yaml:"username"`
		Password         string `yaml:"password"`
		Workspace        string `yaml:"workspace"`
		Owner            bool   `yaml:"owner"`
		ResyncInterval   string `yaml:"resync_interval"`
		MaxBackoff       string `yaml:"max_backoff"`
		DisableBroadcast bool   `yaml:"disable_broadcast"`
		ApplyAttempts    int    `yaml:"apply_attempts"`
		ApplyRetryDelay  string `yaml:"apply_retry_delay"`
	} `yaml:"client"`

	TLS struct {
		Enabled      bool   `yaml:"enabled"`
		CertFile     string `yaml:"cert_file"`
		KeyFile      string `yaml:"key_file"`
		GenerateCert bool   `yaml:"generate_cert"`
	} `yaml:"tls"`

	CORS struct {
		Enabled          bool   `yaml:"enabled"`
		AllowOrigins     string `yaml:"allow_origins"`
		AllowMethods     string `yaml:"allow_methods"`
		AllowHeaders     string `yaml:"allow_headers"`
		AllowCredentials bool   `yaml:"allow_credentials"`
		MaxAge           int    `yaml:"max_age"`
	} `yaml:"cors"`

	Log struct {
		File       string `yaml:"file"`
		Production bool   `yaml:"production"`
		Debug      bool   `yaml:"debug"`
	} `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	endpoint, _ := url.Parse("ws://localhost:1234")
	return &Config{
		Server: ServerConfig{
			Port: 1234,
		},
		Client: ClientConfig{
			Endpoint:        endpoint,
			Connector:       ConnectorWebSocket,
			Workspace:       ".",
			ResyncInterval:  0,
			MaxBackoff:      2500 * time.Millisecond,
			ApplyAttempts:   50,
			ApplyRetryDelay: 20 * time.Millisecond,
		},
		TLS: TLSConfig{
			Enabled:      false,
			CertFile:     "cert/cert.pem",
			KeyFile:      "cert/key.pem",
			GenerateCert: false,
		},
		CORS: CORSConfig{
			Enabled:          false,
			AllowOrigins:     "*",
			AllowMethods:     "GET, OPTIONS",
			AllowHeaders:     "Content-Type, Authorization",
			AllowCredentials: false,
			MaxAge:           86400,
		},
		Log: LogConfig{
			File: "roomsync.log",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	config := Default()

	// If no config file specified, return default config
	if filePath == "" {
		return config, nil
	}

	// Read config file
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := fileConfig.apply(config); err != nil {
		return nil, err
	}
	return config, nil
}

// apply copies every value set in the file over the defaults
func (fc *FileConfig) apply(config *Config) error {
	// Server settings
	if fc.Server.Port != 0 {
		config.Server.Port = fc.Server.Port
	}
	config.Server.Password = fc.Server.Password
	config.Server.RedisURL = fc.Server.RedisURL
	config.Server.NodeID = fc.Server.NodeID

	// Client settings
	if fc.Client.Endpoint != "" {
		endpoint, err := url.Parse(fc.Client.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint URL: %w", err)
		}
		config.Client.Endpoint = endpoint
	}
	if fc.Client.Connector != "" {
		config.Client.Connector = fc.Client.Connector
	}
	config.Client.Room = fc.Client.Room
	config.Client.Username = fc.Client.Username
	config.Client.Password = fc.Client.Password
	if fc.Client.Workspace != "" {
		config.Client.Workspace = fc.Client.Workspace
	}
	config.Client.Owner = fc.Client.Owner
	config.Client.DisableBroadcast = fc.Client.DisableBroadcast
	if fc.Client.ApplyAttempts != 0 {
		config.Client.ApplyAttempts = fc.Client.ApplyAttempts
	}

	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"resync_interval", fc.Client.ResyncInterval, &config.Client.ResyncInterval},
		{"max_backoff", fc.Client.MaxBackoff, &config.Client.MaxBackoff},
		{"apply_retry_delay", fc.Client.ApplyRetryDelay, &config.Client.ApplyRetryDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dest = parsed
	}

	// TLS settings
	config.TLS.Enabled = fc.TLS.Enabled
	if fc.TLS.CertFile != "" {
		config.TLS.CertFile = fc.TLS.CertFile
	}
	if fc.TLS.KeyFile != "" {
		config.TLS.KeyFile = fc.TLS.KeyFile
	}
	config.TLS.GenerateCert = fc.TLS.GenerateCert

	// CORS settings
	config.CORS.Enabled = fc.CORS.Enabled
	if fc.CORS.AllowOrigins != "" {
		config.CORS.AllowOrigins = fc.CORS.AllowOrigins
	}
	if fc.CORS.AllowMethods != "" {
		config.CORS.AllowMethods = fc.CORS.AllowMethods
	}
	if fc.CORS.AllowHeaders != "" {
		config.CORS.AllowHeaders = fc.CORS.AllowHeaders
	}
	config.CORS.AllowCredentials = fc.CORS.AllowCredentials
	if fc.CORS.MaxAge != 0 {
		config.CORS.MaxAge = fc.CORS.MaxAge
	}

	// Log settings
	if fc.Log.File != "" {
		config.Log.File = fc.Log.File
	}
	config.Log.Production = fc.Log.Production
	config.Log.Debug = fc.Log.Debug

	return nil
}

// SaveDefaultConfig saves a default configuration file
func SaveDefaultConfig(filePath string) error {
	defaults := Default()
	var fileConfig FileConfig

	// Server settings
	fileConfig.Server.Port = defaults.Server.Port

	// Client settings
	fileConfig.Client.Endpoint = defaults.Client.Endpoint.String()
	fileConfig.Client.Connector = defaults.Client.Connector
	fileConfig.Client.Workspace = defaults.Client.Workspace
	fileConfig.Client.MaxBackoff = defaults.Client.MaxBackoff.String()
	fileConfig.Client.ApplyAttempts = defaults.Client.ApplyAttempts
	fileConfig.Client.ApplyRetryDelay = defaults.Client.ApplyRetryDelay.String()

	// TLS settings
	fileConfig.TLS.CertFile = defaults.TLS.CertFile
	fileConfig.TLS.KeyFile = defaults.TLS.KeyFile

	// CORS settings
	fileConfig.CORS.AllowOrigins = defaults.CORS.AllowOrigins
	fileConfig.CORS.AllowMethods = defaults.CORS.AllowMethods
	fileConfig.CORS.AllowHeaders = defaults.CORS.AllowHeaders
	fileConfig.CORS.MaxAge = defaults.CORS.MaxAge

	// Log settings
	fileConfig.Log.File = defaults.Log.File

	// Marshal to YAML
	data, err := yaml.Marshal(fileConfig)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}

	// Add helpful comments
	yamlWithComments := "# Room sync configuration\n" +
		"# The server section configures the relay, the client section one participant\n\n" +
		string(data)

	// Write to file
	if err := os.WriteFile(filePath, []byte(yamlWithComments), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
