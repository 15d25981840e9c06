package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Transport names accepted by AUGUR_TRANSPORT.
const (
	TransportRedis     = "redis"
	TransportWebsocket = "websocket"
)

// NodeConfig is the runtime configuration of one server or client process.
type NodeConfig struct {
	InstanceName string        `env:"AUGUR_INSTANCE_NAME" envDefault:"default"`
	Role         gameplay.Role `env:"AUGUR_ROLE"          envDefault:"server"`
	ClientID     string        `env:"AUGUR_CLIENT_ID"`
	Transport    string        `env:"AUGUR_TRANSPORT"     envDefault:"redis"`
	RedisURL     string        `env:"REDIS_URL"           envDefault:"redis://localhost:6379"`
	ListenAddr   string        `env:"AUGUR_LISTEN_ADDR"   envDefault:":8080"`
	ServerURL    string        `env:"AUGUR_SERVER_URL"    envDefault:"ws://localhost:8080/ws"`
	TickInterval time.Duration `env:"AUGUR_TICK_INTERVAL" envDefault:"50ms"`
	Retention    time.Duration `env:"AUGUR_RETENTION"     envDefault:"10s"`
	HistoryLimit int           `env:"AUGUR_HISTORY_LIMIT" envDefault:"32"`
	Catalog      string        `env:"AUGUR_CATALOG"       envDefault:"augur.yml"`
}

// LoadNodeConfig reads the node configuration from the environment and validates it.
func LoadNodeConfig() (*NodeConfig, error) {
	var cfg NodeConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations the environment cannot express.
func (c *NodeConfig) Validate() error {
	if c.InstanceName == "" {
		return &ValidationError{Reason: "AUGUR_INSTANCE_NAME cannot be empty"}
	}
	if err := c.Role.Validate(); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("AUGUR_ROLE: %v", err)}
	}
	if c.Role == gameplay.RoleClient && c.ClientID == "" {
		return &ValidationError{Reason: "AUGUR_CLIENT_ID is required for a client"}
	}
	if c.Transport != TransportRedis && c.Transport != TransportWebsocket {
		return &ValidationError{Reason: fmt.Sprintf("AUGUR_TRANSPORT must be '%s' or '%s', got '%s'", TransportRedis, TransportWebsocket, c.Transport)}
	}
	if c.TickInterval <= 0 {
		return &ValidationError{Reason: "AUGUR_TICK_INTERVAL must be positive"}
	}
	if c.Retention < 0 {
		return &ValidationError{Reason: "AUGUR_RETENTION cannot be negative"}
	}
	if c.HistoryLimit < 1 {
		return &ValidationError{Reason: "AUGUR_HISTORY_LIMIT must be >= 1"}
	}
	return nil
}
