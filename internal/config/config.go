package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`
	ServerID string `envconfig:"SERVER_ID" required:"true"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int    `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	WriteMode   string `envconfig:"WRITE_MODE" default:"scoped"`

	Broker          string `envconfig:"BROKER" default:"redis"`
	RedisURL        string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	ChannelPrefix   string `envconfig:"CHANNEL_PREFIX" default:"teamsync"`
	BrokerBackoffMs int    `envconfig:"BROKER_BACKOFF_MS" default:"2000"`
	BrokerTimeoutMs int    `envconfig:"BROKER_TIMEOUT_MS" default:"3000"`
	PublishQueue    int    `envconfig:"PUBLISH_QUEUE_SIZE" default:"1024"`

	InviteExpirySeconds   int `envconfig:"INVITE_EXPIRY_SECONDS" default:"300"`
	InviteCapPerInvitee   int `envconfig:"INVITE_CAP_PER_INVITEE" default:"25"`
	MaxTeamMembers        int `envconfig:"MAX_TEAM_MEMBERS" default:"10"`
	MaxHomesPerTeam       int `envconfig:"MAX_HOMES_PER_TEAM" default:"5"`
	TeleportRequestTTLSec int `envconfig:"TELEPORT_REQUEST_TTL_SECONDS" default:"30"`

	PresenceTTLSeconds     int `envconfig:"PRESENCE_TTL_SECONDS" default:"25"`
	PresenceOfflineDelayMs int `envconfig:"PRESENCE_OFFLINE_DELAY_MS" default:"1500"`
	HeartbeatSeconds       int `envconfig:"HEARTBEAT_SECONDS" default:"5"`

	SnapshotRefreshTTLSeconds int `envconfig:"SNAPSHOT_REFRESH_TTL_SECONDS" default:"10"`
	ReconcilerInterval        int `envconfig:"RECONCILER_INTERVAL" default:"30"`

	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH" default:""`
	BcryptCost      int    `envconfig:"BCRYPT_COST" default:"12"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want postgres or sqlite", c.StoreDriver)
	}
	switch c.Broker {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid BROKER %q: want redis or memory", c.Broker)
	}
	switch c.WriteMode {
	case "scoped", "full":
	default:
		return fmt.Errorf("invalid WRITE_MODE %q: want scoped or full", c.WriteMode)
	}
	for _, knob := range []struct {
		name  string
		value int
	}{
		{"PORT", c.Port},
		{"DATABASE_MAX_CONNS", c.DBMaxConns},
		{"BROKER_BACKOFF_MS", c.BrokerBackoffMs},
		{"BROKER_TIMEOUT_MS", c.BrokerTimeoutMs},
		{"PUBLISH_QUEUE_SIZE", c.PublishQueue},
		{"INVITE_EXPIRY_SECONDS", c.InviteExpirySeconds},
		{"INVITE_CAP_PER_INVITEE", c.InviteCapPerInvitee},
		{"MAX_TEAM_MEMBERS", c.MaxTeamMembers},
		{"MAX_HOMES_PER_TEAM", c.MaxHomesPerTeam},
		{"TELEPORT_REQUEST_TTL_SECONDS", c.TeleportRequestTTLSec},
		{"PRESENCE_TTL_SECONDS", c.PresenceTTLSeconds},
		{"HEARTBEAT_SECONDS", c.HeartbeatSeconds},
		{"SNAPSHOT_REFRESH_TTL_SECONDS", c.SnapshotRefreshTTLSeconds},
		{"RECONCILER_INTERVAL", c.ReconcilerInterval},
	} {
		if knob.value <= 0 {
			return fmt.Errorf("invalid %s %d: must be positive", knob.name, knob.value)
		}
	}
	if c.PresenceOfflineDelayMs < 0 {
		return fmt.Errorf("invalid PRESENCE_OFFLINE_DELAY_MS %d: must not be negative", c.PresenceOfflineDelayMs)
	}
	if c.HeartbeatSeconds >= c.PresenceTTLSeconds {
		return fmt.Errorf("HEARTBEAT_SECONDS (%d) must be below PRESENCE_TTL_SECONDS (%d)", c.HeartbeatSeconds, c.PresenceTTLSeconds)
	}
	return nil
}

func seconds(n int) time.Duration      { return time.Duration(n) * time.Second }
func milliseconds(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// InviteExpiry returns the invite lifetime.
func (c *Config) InviteExpiry() time.Duration { return seconds(c.InviteExpirySeconds) }

// TeleportRequestTTL returns how long a handed-off teleport waits for its player.
func (c *Config) TeleportRequestTTL() time.Duration { return seconds(c.TeleportRequestTTLSec) }

// PresenceTTL returns the lifetime of a presence key.
func (c *Config) PresenceTTL() time.Duration { return seconds(c.PresenceTTLSeconds) }

// PresenceOfflineDelay returns the wait before OFFLINE is published.
func (c *Config) PresenceOfflineDelay() time.Duration { return milliseconds(c.PresenceOfflineDelayMs) }

// Heartbeat returns the presence heartbeat period.
func (c *Config) Heartbeat() time.Duration { return seconds(c.HeartbeatSeconds) }

// SnapshotRefreshTTL returns the minimum interval between read-triggered refreshes.
func (c *Config) SnapshotRefreshTTL() time.Duration { return seconds(c.SnapshotRefreshTTLSeconds) }

// ReconcileEvery returns the reconciler period.
func (c *Config) ReconcileEvery() time.Duration { return seconds(c.ReconcilerInterval) }

// BrokerBackoff returns the resubscribe delay after a broker failure.
func (c *Config) BrokerBackoff() time.Duration { return milliseconds(c.BrokerBackoffMs) }

// BrokerTimeout bounds each broker call.
func (c *Config) BrokerTimeout() time.Duration { return milliseconds(c.BrokerTimeoutMs) }
