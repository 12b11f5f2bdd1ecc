package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/user/mapic/pkg/imagegen"
)

type Config struct {
	DataDir              string `json:"data_dir"`
	LogLevel             string `json:"log_level"`
	LogFormat            string `json:"log_format"`
	UserID               string `json:"user_id"`
	DefaultModel         string `json:"default_model"`
	MaxConcurrentDeletes int    `json:"max_concurrent_deletes"`
	API                  struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		AccessToken    string `json:"access_token" secret:"true"`
	} `json:"api"`
	Auth struct {
		JWTSecret string `json:"jwt_secret" secret:"true"`
	} `json:"auth"`
	History struct {
		FetchAttempts   int    `json:"fetch_attempts"`
		RefreshSchedule string `json:"refresh_schedule"`
	} `json:"history"`
	Bridge struct {
		Listen string `json:"listen"`
	} `json:"bridge"`
	Telegram struct {
		Token        string `json:"token" secret:"true"`
		AllowedUsers string `json:"allowed_users"`
	} `json:"telegram"`
}

// envOverrides are applied over the file when set.
type envOverrides struct {
	DataDir     string `env:"MAPIC_DATA_DIR"`
	LogLevel    string `env:"MAPIC_LOG_LEVEL"`
	LogFormat   string `env:"MAPIC_LOG_FORMAT"`
	APIURL      string `env:"MAPIC_API_URL"`
	AccessToken string `env:"MAPIC_ACCESS_TOKEN"`
	JWTSecret   string `env:"MAPIC_JWT_SECRET"`
	UserID      string `env:"MAPIC_USER_ID"`
	Model       string `env:"MODEL_NAME"`
	Telegram    string `env:"MAPIC_TELEGRAM_TOKEN"`
}

// DefaultPath returns ~/.mapic/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".mapic", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:              filepath.Join(os.Getenv("HOME"), ".mapic"),
		LogLevel:             "info",
		LogFormat:            "text",
		DefaultModel:         imagegen.DefaultModel,
		MaxConcurrentDeletes: 4,
	}
	cfg.API.BaseURL = "http://localhost:8000/api"
	cfg.API.TimeoutSeconds = 120
	cfg.History.FetchAttempts = 3
	cfg.Bridge.Listen = "127.0.0.1:8765"
	return cfg
}

// LoadDotEnv loads a .env file from the working directory, if present.
// Variables already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
}

func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// First run: write defaults.
		cfg = defaults()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	// Override from env (highest precedence)
	var ov envOverrides
	if err := env.Load(&ov, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	applyOverrides(cfg, &ov)

	return cfg, nil
}

func applyOverrides(cfg *Config, ov *envOverrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DataDir, ov.DataDir)
	set(&cfg.LogLevel, ov.LogLevel)
	set(&cfg.LogFormat, ov.LogFormat)
	set(&cfg.API.BaseURL, ov.APIURL)
	set(&cfg.API.AccessToken, ov.AccessToken)
	set(&cfg.Auth.JWTSecret, ov.JWTSecret)
	set(&cfg.UserID, ov.UserID)
	set(&cfg.DefaultModel, ov.Model)
	set(&cfg.Telegram.Token, ov.Telegram)
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if err := imagegen.ValidateModel(c.DefaultModel); err != nil {
		return fmt.Errorf("default_model: %w", err)
	}
	if c.MaxConcurrentDeletes < 1 {
		return fmt.Errorf("max_concurrent_deletes must be at least 1, got %d", c.MaxConcurrentDeletes)
	}
	if c.History.FetchAttempts < 1 {
		return fmt.Errorf("history.fetch_attempts must be at least 1, got %d", c.History.FetchAttempts)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.TelegramAllowedUsers(); err != nil {
		return err
	}
	return nil
}

// TelegramAllowedUsers parses telegram.allowed_users, a comma-separated list
// of Telegram user ids.
func (c *Config) TelegramAllowedUsers() ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(c.Telegram.AllowedUsers, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram.allowed_users: invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Timeout returns the API timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ImagegenConfig returns the client configuration for the image service.
func (c *Config) ImagegenConfig() *imagegen.Config {
	return &imagegen.Config{
		BaseURL:     c.API.BaseURL,
		AccessToken: c.API.AccessToken,
		Timeout:     c.Timeout(),
	}
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) map[string]any {
	values := Values(cfg)
	if mask {
		for k, v := range values {
			values[k] = Mask(k, v)
		}
	}
	return values
}

// GetValue returns the effective value of key, environment overrides included.
func GetValue(path, key string) (any, error) {
	if _, err := lookup(key); err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Values(cfg)[key], nil
}

// SetValue parses value as the type of key and writes it to the config file.
// The file is left untouched if the key is unknown, the value does not parse,
// or the result fails Validate. The file must already exist.
func SetValue(path, key, value string) error {
	cfg, err := readFile(path)
	if err != nil {
		return err
	}
	if err := assign(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return Save(path, cfg)
}

// readFile decodes the config file over defaults without environment
// overrides.
func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
