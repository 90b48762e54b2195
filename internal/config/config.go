package config

import (
	"time"

	"github.com/rickgao/liveupdates/internal/connection"
)

// NotifierConfig is the root configuration of a notifier instance.
type NotifierConfig struct {
	Instance      InstanceConfig  `yaml:"instance"`
	Broker        BrokerConfig    `yaml:"broker"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
	Auth          AuthConfig      `yaml:"auth"`
	Database      DBConfig        `yaml:"database"`
	Subscriptions []string        `yaml:"subscriptions"`
	Updates       UpdatesConfig   `yaml:"updates"`
	Status        StatusConfig    `yaml:"status"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this notifier.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BrokerConfig holds STOMP broker settings.
type BrokerConfig struct {
	URL               string        `yaml:"url"`  // ws(s):// or http(s):// Web-STOMP endpoint
	Host              string        `yaml:"host"` // STOMP virtual host
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`
	DisableHeartbeats bool          `yaml:"disable_heartbeats"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadLimit         int64         `yaml:"read_limit"`
}

// ReconnectConfig holds the bounded linear backoff settings.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Token sources.
const (
	AuthNone     = "none"
	AuthFile     = "file"
	AuthEnv      = "env"
	AuthPostgres = "postgres"
)

// AuthConfig selects where the bearer token comes from.
type AuthConfig struct {
	Source    string `yaml:"source"`     // none, file, env, postgres
	TokenFile string `yaml:"token_file"` // credential file (plain token or JSON with auth_token)
	TokenEnv  string `yaml:"token_env"`  // environment variable holding the token
	User      string `yaml:"user"`       // token owner, for the postgres source
}

// DBConfig holds the Postgres connection of the credential store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// UpdatesConfig holds settings of the in-process update stream.
type UpdatesConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// StatusConfig holds the status HTTP server settings. Port 0 disables it.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ClientConfig converts the broker section for the STOMP client.
func (c *NotifierConfig) ClientConfig() connection.ClientConfig {
	cc := connection.ClientConfig{
		URL:               c.Broker.URL,
		Host:              c.Broker.Host,
		HeartbeatOutgoing: c.Broker.HeartbeatOutgoing,
		HeartbeatIncoming: c.Broker.HeartbeatIncoming,
		ConnectTimeout:    c.Broker.ConnectTimeout,
		WriteTimeout:      c.Broker.WriteTimeout,
		ReadLimit:         c.Broker.ReadLimit,
	}
	if c.Broker.DisableHeartbeats {
		cc.HeartbeatOutgoing = 0
		cc.HeartbeatIncoming = 0
	}
	return cc
}

// ManagerConfig converts the reconnect section for the Connection Manager.
func (c *NotifierConfig) ManagerConfig() connection.ManagerConfig {
	return connection.ManagerConfig{
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		ReconnectBaseDelay:   c.Reconnect.BaseDelay,
	}
}
