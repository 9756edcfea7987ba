package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPPort           = 8765
	DefaultRatePerMinute      = 100
	DefaultReservationTTL     = 3600
	MaxReservationTTL         = 86400
	DefaultBuildSlotTTL       = 600
	MaxBuildSlotTTL           = 3600
	DefaultCommitAuthor       = "agent-mail <agent-mail@localhost>"
	envPrefix                 = "AGENTMAIL_"
	defaultConfigFile         = "agentmail.yaml"
)

type Config struct {
	DataDir                 string `yaml:"data_dir"`
	HTTPPort                int    `yaml:"http_port"`
	SocketPath              string `yaml:"socket_path"`
	RateLimitPerMinute      int    `yaml:"rate_limit_per_minute_per_token"`
	AuthMode                string `yaml:"auth_mode"`   // none | bearer | jwt
	LogFormat               string `yaml:"log_format"`  // text | json
	ArchiveCommitAuthor     string `yaml:"archive_commit_author"`
	ReservationDefaultTTL   int64  `yaml:"reservation_default_ttl_seconds"`
	BuildSlotDefaultTTL     int64  `yaml:"build_slot_default_ttl_seconds"`
	KeysFile                string `yaml:"keys_file"`
	SweepIntervalSeconds    int    `yaml:"sweep_interval_seconds"`
	CompactAfterSeconds     int64  `yaml:"compact_after_seconds"`
}

func Default() Config {
	return Config{
		DataDir:               defaultDataDir(),
		HTTPPort:              DefaultHTTPPort,
		RateLimitPerMinute:    DefaultRatePerMinute,
		AuthMode:              "none",
		LogFormat:             "text",
		ArchiveCommitAuthor:   DefaultCommitAuthor,
		ReservationDefaultTTL: DefaultReservationTTL,
		BuildSlotDefaultTTL:   DefaultBuildSlotTTL,
		SweepIntervalSeconds:  60,
		CompactAfterSeconds:   7 * 24 * 3600,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "agentmail")
	}
	return filepath.Join(".", "agentmail-data")
}

// Load reads the config file (if present), then applies environment
// overrides. A .env file in the working directory is honored before the
// environment is read.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v := getenv("SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := getenv("RATE_LIMIT_PER_MINUTE_PER_TOKEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := getenv("AUTH_MODE"); v != "" {
		cfg.AuthMode = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("ARCHIVE_COMMIT_AUTHOR"); v != "" {
		cfg.ArchiveCommitAuthor = v
	}
	if v := getenv("RESERVATION_DEFAULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReservationDefaultTTL = n
		}
	}
	if v := getenv("BUILD_SLOT_DEFAULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BuildSlotDefaultTTL = n
		}
	}
	if v := getenv("KEYS_FILE"); v != "" {
		cfg.KeysFile = v
	}
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func (c Config) Validate() error {
	switch c.AuthMode {
	case "none", "bearer", "jwt":
	default:
		return fmt.Errorf("auth_mode %q: must be none, bearer, or jwt", c.AuthMode)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", c.LogFormat)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.ReservationDefaultTTL <= 0 || c.ReservationDefaultTTL > MaxReservationTTL {
		return fmt.Errorf("reservation_default_ttl_seconds %d out of range (1..%d)", c.ReservationDefaultTTL, MaxReservationTTL)
	}
	if c.BuildSlotDefaultTTL <= 0 || c.BuildSlotDefaultTTL > MaxBuildSlotTTL {
		return fmt.Errorf("build_slot_default_ttl_seconds %d out of range (1..%d)", c.BuildSlotDefaultTTL, MaxBuildSlotTTL)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute_per_token must be positive")
	}
	return nil
}

// Logger builds the process logger for the configured format.
func (c Config) Logger() *slog.Logger {
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
