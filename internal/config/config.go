package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "SUMO"

// Config struct for environment variables.
type Config struct {
	DaemonAPIURL   string        `envconfig:"DAEMON_API_URL" default:"http://127.0.0.1:5040/api"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	PollInterval           time.Duration `envconfig:"POLL_INTERVAL" default:"1500ms"`
	DiscoveryGraceDelay    time.Duration `envconfig:"DISCOVERY_GRACE_DELAY" default:"1500ms"`
	DiscoveryAttempts      int           `envconfig:"DISCOVERY_ATTEMPTS" default:"5"`
	DiscoveryRetryInterval time.Duration `envconfig:"DISCOVERY_RETRY_INTERVAL" default:"1500ms"`

	DownloadDir string `envconfig:"DOWNLOAD_DIR"`
	Sequential  bool   `envconfig:"SEQUENTIAL" default:"true"`
	FirstLast   bool   `envconfig:"FIRST_LAST" default:"false"`

	Release struct {
		Host  string `split_words:"true" default:"github.com"`
		Owner string `split_words:"true" default:"0xMasayoshi"`
		Repo  string `split_words:"true" default:"sumo"`
		Tag   string `split_words:"true" default:"v0.0.0-alpha.0"`
		Token string `split_words:"true"`
	}

	BinDir         string `envconfig:"BIN_DIR" default:"src-tauri/bin"`
	RedirectBudget int    `envconfig:"REDIRECT_BUDGET" default:"5"`

	Daemon struct {
		Port         int           `split_words:"true" default:"5040"`
		Profile      string        `split_words:"true" default:".sumo"`
		ReadyTimeout time.Duration `split_words:"true" default:"15s"`
	}

	DBPath           string        `envconfig:"DB_PATH" default:"sumo.db"`
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"sumo"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:5041"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.DownloadDir == "" {
		dir, err := defaultDownloadDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve download dir: %w", err)
		}

		cfg.DownloadDir = dir
	}

	if cfg.DiscoveryAttempts < 1 {
		cfg.DiscoveryAttempts = 1
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultDownloadDir is ~/Documents/sumo, the directory handed to the daemon
// as the save path for new torrents.
func defaultDownloadDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, "Documents", "sumo"), nil
}
