package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"horse-wager/internal/engine"
)

type Config struct {
	Addr            string
	StoreDriver     string
	DatabaseURL     string
	MigrationsDir   string
	JWTSecret       string
	MinBet          int64
	MaxBet          int64
	BigWinThreshold int64
	RetryAttempts   int
	RetryDelay      time.Duration
	PublishTimeout  time.Duration
	RedisAddr       string
	RedisChannel    string
	RegimeTablePath string
	LogLevel        string
	LogPretty       bool
}

// LoadDotEnv reads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	addr := envDefault("PORT", "4000")
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	cfg := Config{
		Addr:            addr,
		StoreDriver:     strings.ToLower(envDefault("STORE_DRIVER", "postgres")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrationsDir:   envDefault("MIGRATIONS_DIR", "migrations"),
		JWTSecret:       JWTSecretFromEnv(),
		MinBet:          envIntDefault("MIN_BET", 10),
		MaxBet:          envIntDefault("MAX_BET", 10000),
		BigWinThreshold: envIntDefault("BIG_WIN_THRESHOLD", 500),
		RetryAttempts:   int(envIntDefault("SETTLE_RETRY_ATTEMPTS", 5)),
		RetryDelay:      envDurationDefault("SETTLE_RETRY_DELAY", 50*time.Millisecond),
		PublishTimeout:  envDurationDefault("PUBLISH_TIMEOUT", 3*time.Second),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisChannel:    envDefault("REDIS_CHANNEL", "horse-wager:events"),
		RegimeTablePath: strings.TrimSpace(os.Getenv("REGIME_TABLE_PATH")),
		LogLevel:        envDefault("LOG_LEVEL", "info"),
		LogPretty:       envBoolDefault("LOG_PRETTY", false),
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}
	if cfg.MinBet <= 0 || cfg.MaxBet < cfg.MinBet {
		return cfg, fmt.Errorf("invalid bet limits %d-%d", cfg.MinBet, cfg.MaxBet)
	}
	return cfg, nil
}

// JWTSecretFromEnv returns JWT_SECRET or the development default.
func JWTSecretFromEnv() string {
	return envDefault("JWT_SECRET", "dev-secret-at-least-32-characters!!")
}

// Engine maps the settlement knobs onto an engine config, loading the regime
// table override if one is configured.
func (c Config) Engine() (engine.Config, error) {
	ec := engine.Config{
		MinBet:          c.MinBet,
		MaxBet:          c.MaxBet,
		BigWinThreshold: c.BigWinThreshold,
		RetryAttempts:   c.RetryAttempts,
		RetryDelay:      c.RetryDelay,
		PublishTimeout:  c.PublishTimeout,
	}
	if c.RegimeTablePath != "" {
		regimes, err := LoadRegimes(c.RegimeTablePath)
		if err != nil {
			return ec, err
		}
		ec.Regimes = regimes
	}
	return ec, nil
}

type regimeFile struct {
	Regimes []engine.Regime `yaml:"regimes"`
}

// LoadRegimes reads and validates a regime table from YAML.
func LoadRegimes(path string) ([]engine.Regime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regime table: %w", err)
	}
	var f regimeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse regime table: %w", err)
	}
	if err := engine.ValidateRegimes(f.Regimes); err != nil {
		return nil, fmt.Errorf("regime table %s: %w", path, err)
	}
	return f.Regimes, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
