package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-notifier
broker:
  url: http://localhost:15674/stomp
  heartbeat_incoming: 10s
reconnect:
  max_attempts: 3
  base_delay: 500ms
auth:
  source: file
  token_file: /tmp/creds.json
subscriptions:
  - /topic/uploads
  - /topic/status
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-notifier" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-notifier")
	}
	if cfg.Broker.URL != "http://localhost:15674/stomp" {
		t.Errorf("Broker.URL = %q, want %q", cfg.Broker.URL, "http://localhost:15674/stomp")
	}
	if cfg.Broker.HeartbeatIncoming != 10*time.Second {
		t.Errorf("Broker.HeartbeatIncoming = %v, want 10s", cfg.Broker.HeartbeatIncoming)
	}
	if cfg.Reconnect.BaseDelay != 500*time.Millisecond {
		t.Errorf("Reconnect.BaseDelay = %v, want 500ms", cfg.Reconnect.BaseDelay)
	}
	if len(cfg.Subscriptions) != 2 || cfg.Subscriptions[0] != "/topic/uploads" {
		t.Errorf("Subscriptions = %v", cfg.Subscriptions)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_TOKEN_USER", "alice")

	yaml := `
instance:
  id: test-notifier
auth:
  source: postgres
  user: ${TEST_TOKEN_USER}
database:
  host: localhost
  name: app
  user: notifier
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
	if cfg.Auth.User != "alice" {
		t.Errorf("Auth.User = %q, want %q", cfg.Auth.User, "alice")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempFile(t, "instance: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-notifier
auth:
  source: postgres
  user: alice
database:
  host: localhost
  name: app
  user: notifier
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Broker.URL != DefaultBrokerURL {
		t.Errorf("Broker.URL = %q, want default %q", cfg.Broker.URL, DefaultBrokerURL)
	}
	if cfg.Broker.HeartbeatOutgoing != DefaultHeartbeat || cfg.Broker.HeartbeatIncoming != DefaultHeartbeat {
		t.Errorf("heart-beats = %v/%v, want default %v",
			cfg.Broker.HeartbeatOutgoing, cfg.Broker.HeartbeatIncoming, DefaultHeartbeat)
	}
	if cfg.Reconnect.MaxAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Reconnect.MaxAttempts = %d, want default %d", cfg.Reconnect.MaxAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Reconnect.BaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Reconnect.BaseDelay = %v, want default %v", cfg.Reconnect.BaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging = %+v, want defaults", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after defaults: %v", err)
	}
}

func TestApplyDefaultsAuthSources(t *testing.T) {
	cfg := NotifierConfig{}
	cfg.ApplyDefaults()
	if cfg.Auth.Source != AuthNone {
		t.Errorf("Auth.Source = %q, want %q", cfg.Auth.Source, AuthNone)
	}
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 without the postgres source", cfg.Database.Port)
	}

	envCfg := NotifierConfig{Auth: AuthConfig{Source: AuthEnv}}
	envCfg.ApplyDefaults()
	if envCfg.Auth.TokenEnv != DefaultTokenEnv {
		t.Errorf("Auth.TokenEnv = %q, want %q", envCfg.Auth.TokenEnv, DefaultTokenEnv)
	}
}

func TestClientAndManagerConfig(t *testing.T) {
	cfg := NotifierConfig{}
	cfg.ApplyDefaults()

	cc := cfg.ClientConfig()
	if cc.URL != DefaultBrokerURL || cc.HeartbeatOutgoing != DefaultHeartbeat {
		t.Errorf("ClientConfig() = %+v", cc)
	}

	cfg.Broker.DisableHeartbeats = true
	cc = cfg.ClientConfig()
	if cc.HeartbeatOutgoing != 0 || cc.HeartbeatIncoming != 0 {
		t.Errorf("heart-beats = %v/%v, want disabled", cc.HeartbeatOutgoing, cc.HeartbeatIncoming)
	}

	mc := cfg.ManagerConfig()
	if mc.MaxReconnectAttempts != DefaultMaxReconnectAttempts || mc.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ManagerConfig() = %+v", mc)
	}
}

func TestValidate(t *testing.T) {
	valid := func() NotifierConfig {
		cfg := NotifierConfig{Instance: InstanceConfig{ID: "test"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*NotifierConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *NotifierConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad broker scheme",
			mutate:  func(c *NotifierConfig) { c.Broker.URL = "tcp://localhost:61613" },
			wantErr: `broker.url scheme must be ws, wss, http or https, got "tcp"`,
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *NotifierConfig) { c.Reconnect.MaxAttempts = -1 },
			wantErr: "reconnect.max_attempts must be >= 0",
		},
		{
			name:    "unknown auth source",
			mutate:  func(c *NotifierConfig) { c.Auth.Source = "ldap" },
			wantErr: `auth.source must be one of none, file, env, postgres, got "ldap"`,
		},
		{
			name:    "file source without path",
			mutate:  func(c *NotifierConfig) { c.Auth.Source = AuthFile },
			wantErr: "auth.token_file is required for source file",
		},
		{
			name:    "postgres source without user",
			mutate:  func(c *NotifierConfig) { c.Auth.Source = AuthPostgres },
			wantErr: "auth.user is required for source postgres",
		},
		{
			name: "postgres source without database host",
			mutate: func(c *NotifierConfig) {
				c.Auth.Source = AuthPostgres
				c.Auth.User = "alice"
			},
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *NotifierConfig) {
				c.Auth.Source = AuthPostgres
				c.Auth.User = "alice"
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "duplicate subscription",
			mutate:  func(c *NotifierConfig) { c.Subscriptions = []string{"/topic/a", "/topic/a"} },
			wantErr: `subscriptions[1]: duplicate destination "/topic/a"`,
		},
		{
			name:    "empty subscription",
			mutate:  func(c *NotifierConfig) { c.Subscriptions = []string{" "} },
			wantErr: "subscriptions[0] is empty",
		},
		{
			name:    "status port out of range",
			mutate:  func(c *NotifierConfig) { c.Status.Port = 70000 },
			wantErr: "status.port must be between 0 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			mutate:  func(c *NotifierConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *NotifierConfig) { c.Subscriptions = []string{"/topic/uploads"} },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("LIVEUPDATES_USER", "alice")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "notifier.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Auth.Source != AuthPostgres || cfg.Auth.User != "alice" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if len(cfg.Subscriptions) != 3 {
		t.Errorf("Subscriptions = %v", cfg.Subscriptions)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
