package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/service"
)

const envPrefix = "LIFE"

// Grace timer backends.
const (
	GraceBackendLocal = "local"
	GraceBackendAsynq = "asynq"
)

// Archive database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// AppConfig captures runtime configuration for the server.
type AppConfig struct {
	AppEnv      string
	HTTPAddress string
	LogLevel    string

	Redis     RedisConfig
	Room      RoomConfig
	Grid      GridConfig
	Sync      SyncConfig
	Presence  PresenceConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Archive   ArchiveConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RoomConfig struct {
	Capacity int
	TTL      time.Duration
}

type GridConfig struct {
	Rows int
	Cols int
}

// SyncConfig tunes the batcher and the merge retry loop.
type SyncConfig struct {
	Debounce      time.Duration
	MaxWait       time.Duration // 0 disables the ceiling
	CASRetries    int
	CASBackoff    time.Duration
	FailurePolicy service.FailurePolicy
}

type PresenceConfig struct {
	GracePeriod  time.Duration
	GraceBackend string
}

// AuthConfig holds the player token settings. An empty secret disables tokens.
type AuthConfig struct {
	PlayerTokenSecret string
	PlayerTokenTTL    time.Duration
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type CORSConfig struct {
	AllowedOrigin string
}

// ArchiveConfig controls the periodic snapshot archive.
type ArchiveConfig struct {
	Enabled  bool
	Driver   string
	DSN      string
	Schedule string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("http.address", ":8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "life:")

	v.SetDefault("room.capacity", 6)
	v.SetDefault("room.ttl", 24*time.Hour)
	v.SetDefault("grid.rows", 40)
	v.SetDefault("grid.cols", 40)

	v.SetDefault("sync.debounce", 50*time.Millisecond)
	v.SetDefault("sync.max_wait", 500*time.Millisecond)
	v.SetDefault("sync.cas_retries", 3)
	v.SetDefault("sync.cas_backoff", 5*time.Millisecond)
	v.SetDefault("sync.failure_policy", string(service.FailureRequeueOnce))

	v.SetDefault("presence.grace_period", 15*time.Second)
	v.SetDefault("presence.grace_backend", GraceBackendLocal)

	v.SetDefault("auth.player_token_secret", "")
	v.SetDefault("auth.player_token_ttl", 24*time.Hour)

	v.SetDefault("ratelimit.max", 100)
	v.SetDefault("ratelimit.window", time.Second)

	v.SetDefault("cors.allowed_origin", "http://localhost:3000")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", DriverSQLite)
	v.SetDefault("archive.dsn", "life-archive.db")
	v.SetDefault("archive.schedule", "@every 5m")
}

// Load parses and validates runtime configuration from viper.
func Load(v *viper.Viper) (AppConfig, error) {
	policy, err := service.ParseFailurePolicy(v.GetString("sync.failure_policy"))
	if err != nil {
		return AppConfig{}, err
	}
	cfg := AppConfig{
		AppEnv:      v.GetString("app.env"),
		HTTPAddress: v.GetString("http.address"),
		LogLevel:    v.GetString("log.level"),
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Room: RoomConfig{
			Capacity: v.GetInt("room.capacity"),
			TTL:      v.GetDuration("room.ttl"),
		},
		Grid: GridConfig{
			Rows: v.GetInt("grid.rows"),
			Cols: v.GetInt("grid.cols"),
		},
		Sync: SyncConfig{
			Debounce:      v.GetDuration("sync.debounce"),
			MaxWait:       v.GetDuration("sync.max_wait"),
			CASRetries:    v.GetInt("sync.cas_retries"),
			CASBackoff:    v.GetDuration("sync.cas_backoff"),
			FailurePolicy: policy,
		},
		Presence: PresenceConfig{
			GracePeriod:  v.GetDuration("presence.grace_period"),
			GraceBackend: strings.ToLower(v.GetString("presence.grace_backend")),
		},
		Auth: AuthConfig{
			PlayerTokenSecret: v.GetString("auth.player_token_secret"),
			PlayerTokenTTL:    v.GetDuration("auth.player_token_ttl"),
		},
		RateLimit: RateLimitConfig{
			Max:    v.GetInt("ratelimit.max"),
			Window: v.GetDuration("ratelimit.window"),
		},
		CORS: CORSConfig{
			AllowedOrigin: v.GetString("cors.allowed_origin"),
		},
		Archive: ArchiveConfig{
			Enabled:  v.GetBool("archive.enabled"),
			Driver:   strings.ToLower(v.GetString("archive.driver")),
			DSN:      v.GetString("archive.dsn"),
			Schedule: v.GetString("archive.schedule"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Room.Capacity <= 0 || c.Room.Capacity > len(domain.PlayerPalette) {
		return fmt.Errorf("room.capacity must be between 1 and %d", len(domain.PlayerPalette))
	}
	if c.Room.TTL <= 0 {
		return fmt.Errorf("room.ttl must be positive")
	}
	if c.Grid.Rows <= 0 || c.Grid.Cols <= 0 {
		return fmt.Errorf("grid.rows and grid.cols must be positive")
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}
	if c.Sync.MaxWait < 0 {
		return fmt.Errorf("sync.max_wait must not be negative")
	}
	if c.Sync.CASRetries <= 0 {
		return fmt.Errorf("sync.cas_retries must be positive")
	}
	if c.Sync.CASBackoff < 0 {
		return fmt.Errorf("sync.cas_backoff must not be negative")
	}
	if c.Presence.GracePeriod <= 0 {
		return fmt.Errorf("presence.grace_period must be positive")
	}
	switch c.Presence.GraceBackend {
	case GraceBackendLocal, GraceBackendAsynq:
	default:
		return fmt.Errorf("presence.grace_backend must be %q or %q", GraceBackendLocal, GraceBackendAsynq)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.max and ratelimit.window must be positive")
	}
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case DriverSQLite, DriverMySQL:
		default:
			return fmt.Errorf("archive.driver must be %q or %q", DriverSQLite, DriverMySQL)
		}
		if strings.TrimSpace(c.Archive.DSN) == "" {
			return fmt.Errorf("archive.dsn is required when archiving is enabled")
		}
		if strings.TrimSpace(c.Archive.Schedule) == "" {
			return fmt.Errorf("archive.schedule is required when archiving is enabled")
		}
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c AppConfig) Production() bool {
	return c.AppEnv == "production"
}
