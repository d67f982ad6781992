// File: internal/config/config.go
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
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token         string        `yaml:"token"`
	Mode          string        `yaml:"mode"`    // polling only for now
	Workers       int           `yaml:"workers"` // polling workers
	AdminIDs      []int64       `yaml:"admin_ids"`
	FollowupDelay time.Duration `yaml:"followup_delay"` // 0 disables the follow-up message
	FollowupText  string        `yaml:"followup_text"`
	RateLimit     int           `yaml:"rate_limit"` // updates per chat per RateWindow; 0 disables
	RateWindow    time.Duration `yaml:"rate_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Addr        string `yaml:"addr"`
	Key         string `yaml:"key"` // empty means open access
	Concurrency int    `yaml:"concurrency"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // postgres://, sqlite://, file: or *.db; empty selects the JSON file
}

type StorageConfig struct {
	SubscribersFile string `yaml:"subscribers_file"`
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty disables the rate limiter
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ForwardConfig struct {
	URL        string        `yaml:"url"`
	AllowHosts []string      `yaml:"allow_hosts"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	Cron string `yaml:"cron"` // empty disables scheduled profile refresh
}

type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Forward  ForwardConfig  `yaml:"forward"`
	Sync     SyncConfig     `yaml:"sync"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	DefaultConcurrency     = 10
	DefaultSubscribersFile = "subscribers.json"
	DefaultForwardTimeout  = 10 * time.Second
	DefaultFollowupText    = "Gunakan /help untuk melihat perintah yang tersedia."
)

// LoadConfig reads the YAML file at path (a missing file is fine), loads .env
// if present and applies environment overrides. Secrets are not validated
// here; each command checks what it needs.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.API.Concurrency <= 0 {
		return nil, fmt.Errorf("api.concurrency must be positive, got %d", cfg.API.Concurrency)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Bot.Token, "TELEGRAM_TOKEN")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.API.Key, "NOTIFY_API_KEY")
	setStr(&cfg.API.Addr, "NOTIFY_ADDR")
	setInt(&cfg.API.Concurrency, "NOTIFY_CONCURRENCY")
	setStr(&cfg.Storage.SubscribersFile, "SUBSCRIBERS_FILE")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Forward.URL, "FORWARD_URL")
	setDuration(&cfg.Bot.FollowupDelay, "FOLLOWUP_DELAY")
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setInt64Slice(&cfg.Bot.AdminIDs, "ADMIN_IDS")
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.FollowupText == "" {
		cfg.Bot.FollowupText = DefaultFollowupText
	}
	if cfg.Bot.RateWindow <= 0 {
		cfg.Bot.RateWindow = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8000"
	}
	if cfg.API.Concurrency == 0 {
		cfg.API.Concurrency = DefaultConcurrency
	}
	if cfg.Storage.SubscribersFile == "" {
		cfg.Storage.SubscribersFile = DefaultSubscribersFile
	}
	if cfg.Forward.Timeout <= 0 {
		cfg.Forward.Timeout = DefaultForwardTimeout
	}
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setDuration accepts Go durations ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
	}
}

func setInt64Slice(dst *[]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int64
	for _, p := range strings.Split(v, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, n)
		}
	}
	*dst = out
}

// IsAdmin reports whether chatID may run administrative bot commands.
func (c BotConfig) IsAdmin(chatID int64) bool {
	for _, id := range c.AdminIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
