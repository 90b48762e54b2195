package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *NotifierConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Broker.validate("broker"); err != nil {
		return err
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}

	switch c.Auth.Source {
	case AuthNone:
	case AuthFile:
		if c.Auth.TokenFile == "" {
			return errors.New("auth.token_file is required for source file")
		}
	case AuthEnv:
		if c.Auth.TokenEnv == "" {
			return errors.New("auth.token_env is required for source env")
		}
	case AuthPostgres:
		if c.Auth.User == "" {
			return errors.New("auth.user is required for source postgres")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("auth.source must be one of none, file, env, postgres, got %q", c.Auth.Source)
	}

	seen := make(map[string]bool, len(c.Subscriptions))
	for i, dest := range c.Subscriptions {
		if strings.TrimSpace(dest) == "" {
			return fmt.Errorf("subscriptions[%d] is empty", i)
		}
		if seen[dest] {
			return fmt.Errorf("subscriptions[%d]: duplicate destination %q", i, dest)
		}
		seen[dest] = true
	}

	if c.Updates.BufferSize < 1 {
		return errors.New("updates.buffer_size must be >= 1")
	}

	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 0 and 65535, got %d", c.Status.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (b *BrokerConfig) validate(prefix string) error {
	if b.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%s.url scheme must be ws, wss, http or https, got %q", prefix, u.Scheme)
	}
	if b.HeartbeatOutgoing < 0 || b.HeartbeatIncoming < 0 {
		return fmt.Errorf("%s heart-beats must be >= 0", prefix)
	}
	if b.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}
	if b.WriteTimeout < 0 {
		return fmt.Errorf("%s.write_timeout must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
