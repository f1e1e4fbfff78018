package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"pairing-hub.db"`
	ServerAddr  string `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	ScriptsPath string `env:"SCRIPTS_PATH"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	InviteTimeout time.Duration `env:"INVITE_TIMEOUT" envDefault:"60s"`
	AnswerTimeout time.Duration `env:"ANSWER_TIMEOUT" envDefault:"300s"`
	CloseTimeout  time.Duration `env:"CLOSE_TIMEOUT" envDefault:"60s"`
	CloseGrace    time.Duration `env:"CLOSE_GRACE" envDefault:"10s"`

	RecoveryGrace  time.Duration `env:"RECOVERY_GRACE" envDefault:"30s"`
	MaxSessionAge  time.Duration `env:"MAX_SESSION_AGE" envDefault:"24h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	PurgeRetention time.Duration `env:"PURGE_RETENTION" envDefault:"720h"`
	PurgeInterval  time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`

	DefaultScript  string        `env:"DEFAULT_SCRIPT" envDefault:"match"`
	BrowseScript   string        `env:"BROWSE_SCRIPT" envDefault:"swipe"`
	BrowseViewTTL  time.Duration `env:"BROWSE_VIEW_TTL" envDefault:"60m"`
	BrowsePageSize int           `env:"BROWSE_PAGE_SIZE" envDefault:"5"`

	AcceptSymbols []string `env:"ACCEPT_SYMBOLS" envSeparator:"," envDefault:"✅,👍"`
	RejectSymbols []string `env:"REJECT_SYMBOLS" envSeparator:"," envDefault:"❌,👎"`
	EventBuffer   int      `env:"EVENT_BUFFER" envDefault:"64"`

	// GatewayTokenHash is the bcrypt hash of the bridge's bearer token.
	GatewayTokenHash string `env:"GATEWAY_TOKEN_HASH"`
}

type postgresEnv struct {
	User     string `env:"POSTGRES_USER" envDefault:"pairing_hub"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"pairing_hub_pass"`
	DB       string `env:"POSTGRES_DB" envDefault:"pairing_hub"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	SSLMode  string `env:"DATABASE_SSLMODE" envDefault:"disable"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	switch cfg.StoreDriver {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			var pg postgresEnv
			if err := env.Parse(&pg); err != nil {
				return nil, fmt.Errorf("parse env: %w", err)
			}
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", pg.User, pg.Password, pg.Host, pg.Port, pg.DB, pg.SSLMode)
		}
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	for name, d := range map[string]time.Duration{
		"INVITE_TIMEOUT": cfg.InviteTimeout,
		"ANSWER_TIMEOUT": cfg.AnswerTimeout,
		"CLOSE_TIMEOUT":  cfg.CloseTimeout,
		"RECOVERY_GRACE": cfg.RecoveryGrace,
		"SWEEP_INTERVAL": cfg.SweepInterval,
		"PURGE_INTERVAL": cfg.PurgeInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", name)
		}
	}
	if len(cfg.AcceptSymbols) == 0 || len(cfg.RejectSymbols) == 0 {
		return nil, fmt.Errorf("ACCEPT_SYMBOLS and REJECT_SYMBOLS must not be empty")
	}
	return &cfg, nil
}
