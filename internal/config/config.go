package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings backends
const (
	SettingsBackendMemory   = "memory"
	SettingsBackendPostgres = "postgres"
)

type Config struct {
	IsDev bool `env:"DEV" envDefault:"false"`

	// URL overrides the individual Database fields when set
	URL string `env:"DATABASE_URL"`

	Server   ServerConfig
	Database DatabaseConfig `envPrefix:"DB_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Service  ServiceConfig  `envPrefix:"SERVICE_"`
	Settings SettingsConfig `envPrefix:"SETTINGS_"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"localhost"`
}

type DatabaseConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     string `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"redpacket"`
	Password string `env:"PASSWORD" envDefault:"redpacket"`
	DBName   string `env:"NAME"     envDefault:"redpacket"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"`
}

type RedisConfig struct {
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
	Channel  string `env:"CHANNEL"  envDefault:"redpacket:service"`
}

type ServiceConfig struct {
	Identity           string        `env:"IDENTITY"            envDefault:"com.yuhaiyang.redpacket/.ui.service.RedPacketService"`
	APILevel           int           `env:"API_LEVEL"           envDefault:"23"`
	NotificationGating string        `env:"NOTIFICATION_GATING" envDefault:"none"`
	NotificationToggle bool          `env:"NOTIFICATION_TOGGLE" envDefault:"true"`
	StatusSchedule     string        `env:"STATUS_SCHEDULE"     envDefault:"@every 30s"`
	GuardJobs          bool          `env:"GUARD_JOBS"          envDefault:"true"`
	GuardMaxFailures   uint32        `env:"GUARD_MAX_FAILURES"  envDefault:"5"`
	GuardOpenTimeout   time.Duration `env:"GUARD_OPEN_TIMEOUT"  envDefault:"30s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT"    envDefault:"15s"`
	SingleInstance     bool          `env:"SINGLE_INSTANCE"     envDefault:"true"`
	// EnabledServices seeds the OS enabled-services listing, comma separated
	EnabledServices []string `env:"ENABLED_SERVICES" envSeparator:","`
}

type SettingsConfig struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
	Table   string `env:"TABLE"   envDefault:"redpacket_settings"`
}

// Load reads an optional .env file, then parses the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}
	return parse(env.Options{})
}

// LoadFrom parses config from the given environment only
func LoadFrom(environment map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize normalizes values loaded from env
func (c *Config) Sanitize() {
	c.Settings.Backend = strings.ToLower(strings.TrimSpace(c.Settings.Backend))
	c.Service.NotificationGating = strings.ToLower(strings.TrimSpace(c.Service.NotificationGating))
	if c.Service.GuardMaxFailures == 0 {
		c.Service.GuardMaxFailures = 1
	}
	if c.Service.ShutdownTimeout <= 0 {
		c.Service.ShutdownTimeout = 15 * time.Second
	}

	ids := c.Service.EnabledServices[:0]
	for _, id := range c.Service.EnabledServices {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.Service.EnabledServices = ids
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Identity) == "" {
		return errors.New("SERVICE_IDENTITY is required")
	}
	switch c.Settings.Backend {
	case SettingsBackendMemory, SettingsBackendPostgres:
	default:
		return fmt.Errorf("unknown settings backend %q", c.Settings.Backend)
	}
	if c.Service.APILevel < 0 {
		return fmt.Errorf("invalid SERVICE_API_LEVEL %d", c.Service.APILevel)
	}
	return nil
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if c.URL != "" {
		return c.URL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
