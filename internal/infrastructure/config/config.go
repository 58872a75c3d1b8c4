package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		ListenAddr           string `toml:"listen_addr"`
		LogLevel             string `toml:"log_level"`
		EnvFile              string `toml:"env_file"`
		CredentialDebounceMs int    `toml:"credential_debounce_ms"`
		ShutdownGraceMs      int    `toml:"shutdown_grace_ms"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	// Sources 以数据源名称为 key：binance / delta / kite
	Sources map[string]Source `toml:"sources"`

	Backoff struct {
		BaseMs int `toml:"base_ms"`
		MaxMs  int `toml:"max_ms"`
	} `toml:"backoff"`

	Storage struct {
		Redis    RedisConfig    `toml:"redis"`
		SQLite   SQLiteConfig   `toml:"sqlite"`
		Postgres PostgresConfig `toml:"postgres"`
	} `toml:"storage"`

	Metrics struct {
		Enabled bool `toml:"enabled"`
	} `toml:"metrics"`

	// 来自环境变量 / .env，不写在 toml 中
	Credentials Credentials `toml:"-"`
}

type Source struct {
	Enabled        bool   `toml:"enabled"`
	WsURL          string `toml:"ws_url"`
	RestURL        string `toml:"rest_url"`
	Quote          string `toml:"quote"`
	Channel        string `toml:"channel"`
	Mode           string `toml:"mode"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	StaleAfterMs   int    `toml:"stale_after_ms"`
}

type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	Prefix       string `toml:"prefix"`
	TTLSeconds   int    `toml:"ttl_seconds"`
	AlertStream  string `toml:"alert_stream"`
	AlertChannel string `toml:"alert_channel"`
}

type SQLiteConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type PostgresConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

type Credentials struct {
	APIKey      string
	AccessToken string
	Instruments map[uint32]string
}

const (
	EnvAPIKey      = "KITE_API_KEY"
	EnvAccessToken = "KITE_ACCESS_TOKEN"
	EnvInstruments = "INSTRUMENTS_DATA"
	EnvSocketPort  = "SOCKET_PORT"
)

// knownSources 与 pricefeed 注册表中的名称一致
var knownSources = map[string]struct{}{"binance": {}, "delta": {}, "kite": {}}

// Load 读取 toml，预加载 .env（不覆盖已有环境变量），再读取凭证
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := loadEnvFile(cfg.App.EnvFile); err != nil {
		return nil, err
	}
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.ListenAddr) == "" {
		cfg.App.ListenAddr = ":3001"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.EnvFile == "" {
		cfg.App.EnvFile = ".env"
	}
	if cfg.App.CredentialDebounceMs <= 0 {
		cfg.App.CredentialDebounceMs = 500
	}
	if cfg.App.ShutdownGraceMs <= 0 {
		cfg.App.ShutdownGraceMs = 5000
	}
	if cfg.Backoff.BaseMs <= 0 {
		cfg.Backoff.BaseMs = 1000
	}
	if cfg.Backoff.MaxMs <= 0 {
		cfg.Backoff.MaxMs = 30000
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "pricerelay"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/pricerelay.db"
	}
}

// loadEnvFile 文件不存在时忽略
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Credentials.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	cfg.Credentials.AccessToken = strings.TrimSpace(os.Getenv(EnvAccessToken))

	if port := strings.TrimSpace(os.Getenv(EnvSocketPort)); port != "" {
		cfg.App.ListenAddr = ":" + port
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}
	if cfg.Backoff.MaxMs < cfg.Backoff.BaseMs {
		return fmt.Errorf("backoff.max_ms (%d) below base_ms (%d)", cfg.Backoff.MaxMs, cfg.Backoff.BaseMs)
	}

	enabled := cfg.GetEnabledSources()
	if len(enabled) == 0 {
		return errors.New("no sources enabled")
	}
	for _, name := range enabled {
		if _, ok := knownSources[name]; !ok {
			return fmt.Errorf("sources.%s: unknown source", name)
		}
		src := cfg.Source(name)
		if src.PollIntervalMs < 0 || src.StaleAfterMs < 0 {
			return fmt.Errorf("sources.%s: negative interval", name)
		}
	}

	if cfg.IsEnabled("kite") {
		creds := &cfg.Credentials
		raw := strings.TrimSpace(os.Getenv(EnvInstruments))
		if creds.APIKey == "" || creds.AccessToken == "" || raw == "" {
			return fmt.Errorf("missing %s, %s, or %s", EnvAPIKey, EnvAccessToken, EnvInstruments)
		}
		instruments, err := ParseInstruments(raw)
		if err != nil {
			return err
		}
		creds.Instruments = instruments
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	return nil
}

// GetEnabledSources 返回启用的数据源名称，按名称排序
func (c *Config) GetEnabledSources() []string {
	out := make([]string, 0, len(c.Sources))
	for name, src := range c.Sources {
		if src.Enabled {
			out = append(out, strings.ToLower(name))
		}
	}
	sort.Strings(out)
	return out
}

func (c *Config) IsEnabled(name string) bool {
	for _, n := range c.GetEnabledSources() {
		if n == name {
			return true
		}
	}
	return false
}

// Source 按名称大小写不敏感地查找
func (c *Config) Source(name string) Source {
	for k, v := range c.Sources {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return Source{}
}

func (s Source) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s Source) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterMs) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Backoff.BaseMs) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMs) * time.Millisecond
}

func (c *Config) CredentialDebounce() time.Duration {
	return time.Duration(c.App.CredentialDebounceMs) * time.Millisecond
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.App.ShutdownGraceMs) * time.Millisecond
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
