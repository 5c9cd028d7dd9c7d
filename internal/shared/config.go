package shared

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"navigatum_sync/internal/domain"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"prod"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"15s"`
	MetricsAddr    string        `env:"METRICS_ADDR"`
	PushgatewayURL string        `env:"PUSHGATEWAY_URL"`

	MySQLDSN  string        `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/navigatum?parseTime=true&charset=utf8mb4&loc=UTC"`
	RedisAddr string        `env:"REDIS_ADDR"` // empty disables the cache and the run lock
	RedisPass string        `env:"REDIS_PASSWORD"`
	RedisDB   int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"15m"`

	CDNURL       string        `env:"CDN_URL" envDefault:"https://nav.tum.de/cdn"`
	SnapshotPath string        `env:"SNAPSHOT_PATH" envDefault:"/api_data"`
	StatusPath   string        `env:"STATUS_PATH" envDefault:"/status_data"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	FetchRPS     int           `env:"FETCH_RPS" envDefault:"5"`
	FetchRetries int           `env:"FETCH_RETRIES" envDefault:"0"`

	SyncMode        string        `env:"SYNC_MODE" envDefault:"batch"`
	ContinueOnError bool          `env:"SYNC_CONTINUE_ON_ERROR" envDefault:"false"`
	RequireHash     bool          `env:"SYNC_REQUIRE_HASH" envDefault:"true"`
	HashLanguages   []string      `env:"SYNC_HASH_LANGUAGES" envSeparator:"," envDefault:"de"`
	ExtractScalars  bool          `env:"SYNC_EXTRACT_SCALARS" envDefault:"true"`
	LockKey         string        `env:"SYNC_LOCK_KEY" envDefault:"navigatum:sync:lock"`
	LockTTL         time.Duration `env:"SYNC_LOCK_TTL" envDefault:"15m"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, ok := domain.ParseSyncMode(c.SyncMode); !ok {
		return fmt.Errorf("SYNC_MODE: unknown mode %q (want %q or %q)", c.SyncMode, domain.ModeBatch, domain.ModePerRecord)
	}
	if c.ContinueOnError && c.SyncMode == string(domain.ModeBatch) {
		return fmt.Errorf("SYNC_CONTINUE_ON_ERROR requires SYNC_MODE=%s", domain.ModePerRecord)
	}
	if _, err := c.HashLangs(); err != nil {
		return err
	}
	if c.CDNURL == "" {
		return fmt.Errorf("CDN_URL is required")
	}
	return nil
}

// Mode returns the validated sync mode.
func (c Config) Mode() domain.SyncMode {
	m, _ := domain.ParseSyncMode(c.SyncMode)
	return m
}

// HashLangs returns the languages whose rows carry the content hash.
func (c Config) HashLangs() ([]domain.Language, error) {
	out := make([]domain.Language, 0, len(c.HashLanguages))
	for _, s := range c.HashLanguages {
		l, ok := domain.ParseLanguage(s)
		if !ok {
			return nil, fmt.Errorf("SYNC_HASH_LANGUAGES: unknown language %q", s)
		}
		out = append(out, l)
	}
	return out, nil
}
