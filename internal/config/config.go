package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/namikmesic/tenant-session/internal/oauth"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Profile  string `env:"PROFILE" envDefault:"default"`

	TokenBackend     string `env:"TOKEN_BACKEND" envDefault:"file"`
	TokenFile        string `env:"TOKEN_FILE" envDefault:"${HOME}/.config/dashctl/token" envExpand:"true"`
	DatabaseURL      string `env:"DATABASE_URL"`
	WriterBufferSize int    `env:"WRITER_BUFFER_SIZE" envDefault:"256"`
	WriterBatchSize  int    `env:"WRITER_BATCH_SIZE" envDefault:"16"`
	WriterFlushMs    int    `env:"WRITER_FLUSH_MS" envDefault:"100"`

	BusEnabled bool   `env:"BUS_ENABLED" envDefault:"false"`
	NATSURL    string `env:"NATS_URL"`

	// OAuth durations default to oauth.DefaultTimeout and
	// oauth.DefaultPollInterval when unset.
	OAuthTimeout      time.Duration `env:"OAUTH_TIMEOUT"`
	OAuthPollInterval time.Duration `env:"OAUTH_POLL_INTERVAL"`
	CallbackAddr      string        `env:"CALLBACK_ADDR" envDefault:"127.0.0.1:8765"`
}

func Load() (*Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{
		OAuthTimeout:      oauth.DefaultTimeout,
		OAuthPollInterval: oauth.DefaultPollInterval,
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.TokenBackend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("TOKEN_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown TOKEN_BACKEND %q", c.TokenBackend)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if c.OAuthTimeout <= 0 || c.OAuthPollInterval <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT and OAUTH_POLL_INTERVAL must be positive")
	}
	return nil
}

// CallbackOrigin is the origin the OAuth callback page is served from.
func (c *Config) CallbackOrigin() string {
	return "http://" + c.CallbackAddr
}
