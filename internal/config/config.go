// Package config loads service configuration from a yaml file with
// environment overrides. Secrets arrive through the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env  string `yaml:"env" env:"APP_ENV" env-default:"dev"`
	HTTP HTTP   `yaml:"http"`
	Log  Log    `yaml:"log"`

	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Gate     Gate     `yaml:"gate"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN" env-required:"true"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Auth struct {
	// JWTSecret signs HS256 access tokens; required unless Ed25519 keys
	// are configured instead.
	JWTSecret  string        `yaml:"-" env:"JWT_SECRET"`
	JWTMethod  string        `yaml:"jwt_method" env:"JWT_METHOD" env-default:"hs256"`
	Issuer     string        `yaml:"issuer" env-default:"eis-api"`
	AccessTTL  time.Duration `yaml:"access_ttl" env-default:"15m"`
	SessionTTL time.Duration `yaml:"session_ttl" env-default:"168h"`

	TOTPIssuer string `yaml:"totp_issuer" env-default:"Electrical Supplier"`

	// Bootstrap seed: created at startup when no account with this email
	// exists. Leave empty in environments seeded by operators.
	SeedEmail    string `yaml:"-" env:"SEED_ADMIN_EMAIL"`
	SeedPassword string `yaml:"-" env:"SEED_ADMIN_PASSWORD"`
}

type Gate struct {
	MinFillTime     time.Duration `yaml:"min_fill_time" env-default:"1500ms"`
	MaxFormAge      time.Duration `yaml:"max_form_age" env-default:"1h"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" env-default:"10m"`
	DailyCap        int           `yaml:"daily_cap" env-default:"5"`
	AllowedFields   []string      `yaml:"allowed_fields" env:"GATE_ALLOWED_FIELDS"`
	FailOpen        bool          `yaml:"fail_open" env:"GATE_FAIL_OPEN" env-default:"false"`
}

func (c *Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Load reads the yaml file at path (optional) and applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	return &cfg, nil
}
