package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerURL            = "ws://localhost:15674/ws"
	DefaultBrokerHost           = "/"
	DefaultHeartbeat            = 4 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultAuthSource           = AuthNone
	DefaultTokenEnv             = "LIVEUPDATES_TOKEN"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultUpdatesBufferSize    = 256
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *NotifierConfig) ApplyDefaults() {
	// Broker defaults
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.Host == "" {
		c.Broker.Host = DefaultBrokerHost
	}
	if c.Broker.HeartbeatOutgoing == 0 {
		c.Broker.HeartbeatOutgoing = DefaultHeartbeat
	}
	if c.Broker.HeartbeatIncoming == 0 {
		c.Broker.HeartbeatIncoming = DefaultHeartbeat
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Broker.WriteTimeout == 0 {
		c.Broker.WriteTimeout = DefaultWriteTimeout
	}
	if c.Broker.ReadLimit == 0 {
		c.Broker.ReadLimit = DefaultReadLimit
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxReconnectAttempts
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}

	// Auth defaults
	if c.Auth.Source == "" {
		c.Auth.Source = DefaultAuthSource
	}
	if c.Auth.Source == AuthEnv && c.Auth.TokenEnv == "" {
		c.Auth.TokenEnv = DefaultTokenEnv
	}

	// Database defaults, only when the credential store is used
	if c.Auth.Source == AuthPostgres {
		if c.Database.Port == 0 {
			c.Database.Port = DefaultDBPort
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = DefaultDBSSLMode
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = DefaultMaxConns
		}
		if c.Database.MinConns == 0 {
			c.Database.MinConns = DefaultMinConns
		}
	}

	if c.Updates.BufferSize == 0 {
		c.Updates.BufferSize = DefaultUpdatesBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
