package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/handshake"
)

// Config contains server configuration parameters.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	TenantID    string `env:"TENANT_ID"`

	// DebugLogCodes writes one-time codes to the log instead of mailing
	// them. Load rejects it in production.
	DebugLogCodes bool `env:"DEBUG_LOG_CODES" envDefault:"false"`

	HTTP      HTTP      `envPrefix:"HTTP_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Database  Database  `envPrefix:"DATABASE_"`
	Google    OIDC      `envPrefix:"GOOGLE_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
	Session   Session   `envPrefix:"SESSION_"`
	Challenge Challenge `envPrefix:"CHALLENGE_"`
	OTEL      OTEL      `envPrefix:"OTEL_"`
}

// HTTP contains listener parameters.
type HTTP struct {
	Addr              string        `env:"ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Redis contains connection parameters. An empty Addr selects in-memory
// stores, which production refuses.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Database contains Postgres parameters. An empty DSN selects the
// in-memory directory, which production refuses.
type Database struct {
	DSN string `env:"DSN"`
}

// OIDC contains one provider registration. An empty ClientID disables it.
type OIDC struct {
	Issuer       string `env:"ISSUER" envDefault:"https://accounts.google.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// SMTP contains outbound mail parameters.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
	FromName string `env:"FROM_NAME"`
}

// Session contains durable session and access token parameters.
type Session struct {
	TTL        time.Duration `env:"TTL" envDefault:"168h"`
	AccessTTL  time.Duration `env:"ACCESS_TTL" envDefault:"1h"`
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER" envDefault:"handshake"`
}

// Challenge contains one-time code parameters.
type Challenge struct {
	TTL         time.Duration `env:"TTL" envDefault:"10m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	TokenKey    string        `env:"TOKEN_KEY"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// OTEL contains metrics export parameters. An empty Endpoint disables
// export.
type OTEL struct {
	Endpoint    string        `env:"ENDPOINT"`
	Insecure    bool          `env:"INSECURE" envDefault:"false"`
	ServiceName string        `env:"SERVICE_NAME" envDefault:"handshake"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"30s"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	return parse(env.Options{})
}

// NewConfigFrom loads configuration from vars instead of the process
// environment.
func NewConfigFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether APP_ENV names a production deployment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) validate() error {
	if len(c.Session.SigningKey) < 32 {
		return errors.New("SESSION_SIGNING_KEY must be at least 32 bytes")
	}
	if c.Google.ClientID != "" && (c.Google.ClientSecret == "" || c.Google.RedirectURL == "") {
		return errors.New("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required with GOOGLE_CLIENT_ID")
	}

	if !c.Production() {
		return nil
	}
	if c.DebugLogCodes {
		return errors.New("DEBUG_LOG_CODES is not allowed in production")
	}
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required in production")
	}
	if c.Database.DSN == "" {
		return errors.New("DATABASE_DSN is required in production")
	}
	if c.SMTP.Host == "" {
		return errors.New("SMTP_HOST is required in production")
	}
	if len(c.Challenge.TokenKey) < 32 {
		return errors.New("CHALLENGE_TOKEN_KEY must be at least 32 bytes in production")
	}
	return nil
}

// Engine derives the login core policy. Production forces the engine's
// hardening checks on.
func (c *Config) Engine() handshake.Config {
	cfg := handshake.DefaultConfig()
	cfg.Redirect.FrontendURL = c.FrontendURL
	cfg.Challenge.TTL = c.Challenge.TTL
	cfg.Challenge.MaxAttempts = c.Challenge.MaxAttempts
	cfg.Challenge.SweepInterval = c.Challenge.SweepInterval
	cfg.Challenge.DebugLogCodes = c.DebugLogCodes
	if c.Challenge.TokenKey != "" {
		cfg.Challenge.TokenSigningKey = []byte(c.Challenge.TokenKey)
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = true
	cfg.Security.ProductionMode = c.Production()
	return cfg
}
