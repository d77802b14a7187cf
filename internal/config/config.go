// Package config loads the YAML file both binaries are configured from and builds the services
// it names.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/MegaGrindStone/ask-stream/internal/services"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config is the decoded configuration file.
type Config struct {
	Port         string           `yaml:"port"`
	LogLevel     string           `yaml:"logLevel"`
	LogFormat    string           `yaml:"logFormat"`
	SettingsPath string           `yaml:"settingsPath"`
	Store        StoreConfig      `yaml:"store"`
	History      HistoryConfig    `yaml:"history"`
	Screenshot   ScreenshotConfig `yaml:"screenshot"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// ScreenshotConfig points at the capture file an external tool keeps up to date.
type ScreenshotConfig struct {
	Path   string        `yaml:"path"`
	MaxAge time.Duration `yaml:"maxAge"`
}

// HistoryConfig builds the conversation history the ask flow reads from.
type HistoryConfig interface {
	history() (History, error)
}

// BaseHistoryConfig contains the fields shared by every history configuration.
type BaseHistoryConfig struct {
	Type string `yaml:"type"`
	Size int    `yaml:"size"`
}

type memoryHistoryConfig struct {
	BaseHistoryConfig `yaml:",inline"`
}

type redisHistoryConfig struct {
	BaseHistoryConfig `yaml:",inline"`
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	Key               string `yaml:"key"`
}

// History is a conversation history that can be both read and appended to.
type History interface {
	RecentTurns(ctx context.Context) ([]string, error)
	Append(ctx context.Context, speaker, text string) error
}

// Store is a session store as used by the ask flow and the HTTP API.
type Store interface {
	GetOrCreateActive(ctx context.Context, kind string) (string, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) (string, error)
	CloseActive(ctx context.Context, kind string) error
	Sessions(ctx context.Context) ([]models.Session, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	Close() error
}

const (
	appDirName = "askstream"

	defaultPort     = "8080"
	defaultRedisKey = "askstream:history"
)

// Dir returns the directory the configuration, settings and database live in by default.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, appDirName), nil
}

// LoadDefault loads config.yaml from Dir, falling back to defaults when the file does not exist.
func LoadDefault() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Decode(strings.NewReader(""), dir)
	}
	return Load(path)
}

// Load decodes the configuration file at path and fills in defaults relative to the file's
// directory.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return Decode(f, filepath.Dir(path))
}

// Decode reads a configuration from r. Relative defaults are resolved against dir.
func Decode(r io.Reader, dir string) (Config, error) {
	cfg := Config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(dir, "settings.yaml")
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "bolt"
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Type {
		case "sqlite":
			cfg.Store.Path = filepath.Join(dir, "store.sqlite")
		default:
			cfg.Store.Path = filepath.Join(dir, "store.db")
		}
	}
	if cfg.History == nil {
		cfg.History = &memoryHistoryConfig{BaseHistoryConfig{Type: "memory"}}
	}

	return cfg, nil
}

// UnmarshalYAML decodes the history section into the configuration its type names.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string           `yaml:"port"`
		LogLevel     string           `yaml:"logLevel"`
		LogFormat    string           `yaml:"logFormat"`
		SettingsPath string           `yaml:"settingsPath"`
		Store        StoreConfig      `yaml:"store"`
		History      map[string]any   `yaml:"history"`
		Screenshot   ScreenshotConfig `yaml:"screenshot"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.SettingsPath = rawConfig.SettingsPath
	c.Store = rawConfig.Store
	c.Screenshot = rawConfig.Screenshot

	if rawConfig.History == nil {
		return nil
	}

	historyType, _ := rawConfig.History["type"].(string)
	if historyType == "" {
		historyType = "memory"
	}

	historyRawYAML, err := yaml.Marshal(rawConfig.History)
	if err != nil {
		return err
	}

	var history HistoryConfig
	switch historyType {
	case "memory":
		history = &memoryHistoryConfig{}
	case "redis":
		history = &redisHistoryConfig{}
	default:
		return fmt.Errorf("unknown history type: %s", historyType)
	}

	if err := yaml.Unmarshal(historyRawYAML, history); err != nil {
		return err
	}

	c.History = history
	return nil
}

// OpenHistory builds the configured conversation history.
func (c Config) OpenHistory() (History, error) {
	return c.History.history()
}

func (m memoryHistoryConfig) history() (History, error) {
	return services.NewTranscript(m.Size), nil
}

func (r redisHistoryConfig) history() (History, error) {
	if r.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	password := r.Password
	if password == "" {
		password = os.Getenv("REDIS_PASSWORD")
	}
	key := r.Key
	if key == "" {
		key = defaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: password,
		DB:       r.DB,
	})
	return services.NewRedisHistory(client, key, r.Size), nil
}

// OpenStore opens the configured session store, creating its directory if needed.
func (c Config) OpenStore() (Store, error) {
	if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("error creating store directory: %w", err)
	}

	switch c.Store.Type {
	case "bolt":
		db, err := services.NewBoltDB(c.Store.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := services.OpenSQLite(c.Store.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
}

// Logger builds the slog logger described by logLevel and logFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
