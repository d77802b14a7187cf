package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings provides the user's model selection from a settings file. The file is watched and
// re-read on change; Current always returns the last copy that loaded successfully. Environment
// variables prefixed with ASK_ override file values.
//
// The viper instance is only used under mu.
type Settings struct {
	v       *viper.Viper
	path    string
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	current  modelSettings
	watchers []func(old, new models.ModelInfo)

	logger *slog.Logger
}

type modelSettings struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"apiKey"`
	BaseURL     string  `mapstructure:"baseURL"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"maxTokens"`
}

const settingsDebounce = 100 * time.Millisecond

const defaultSettings = `# Model used to answer questions. apiKey may also come from ASK_API_KEY or OPENAI_API_KEY.
provider: openai
model: gpt-4o-mini
apiKey: ""
temperature: 0.7
maxTokens: 2048
`

// EnsureSettings writes a starter settings file to path unless one already exists.
func EnsureSettings(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating settings directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultSettings), 0600); err != nil {
		return fmt.Errorf("error writing settings file: %w", err)
	}
	return nil
}

// LoadSettings reads the settings file at path and starts watching it.
func LoadSettings(path string, logger *slog.Logger) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("provider", "")
	v.SetDefault("model", "")
	v.SetDefault("apiKey", "")
	v.SetDefault("baseURL", "")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("maxTokens", 2048)

	v.SetEnvPrefix("ASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("apiKey", "ASK_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading settings file: %w", err)
	}

	s := &Settings{
		v:      v,
		path:   filepath.Clean(path),
		logger: logger.With(slog.String("module", "settings")),
	}
	if err := v.Unmarshal(&s.current); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}

	if err := s.watch(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the selected model. ok is false when no provider or model is set.
func (s *Settings) Current(context.Context) (models.ModelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.current.modelInfo()
	if info.Provider == "" || info.Model == "" {
		return info, false
	}
	return info, true
}

// OnChange registers callback to run after the settings change on disk.
func (s *Settings) OnChange(callback func(old, new models.ModelInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, callback)
}

// Reload re-reads the settings file. On error the previous settings stay in effect.
func (s *Settings) Reload() error {
	s.mu.Lock()

	if err := s.v.ReadInConfig(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error reading settings file: %w", err)
	}
	var next modelSettings
	if err := s.v.Unmarshal(&next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error decoding settings: %w", err)
	}

	old := s.current
	s.current = next
	watchers := append([]func(old, new models.ModelInfo){}, s.watchers...)
	s.mu.Unlock()

	if old == next {
		return nil
	}
	for _, cb := range watchers {
		cb(old.modelInfo(), next.modelInfo())
	}
	return nil
}

// Close stops watching the settings file.
func (s *Settings) Close() error {
	return s.watcher.Close()
}

// watch reloads the settings after writes to the file settle. The directory is watched so that
// editors replacing the file by rename are picked up.
func (s *Settings) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating settings watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("error watching settings directory: %w", err)
	}
	s.watcher = watcher

	go func() {
		var debounce <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				debounce = time.After(settingsDebounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Settings watcher error", slog.String(errLoggerKey, err.Error()))

			case <-debounce:
				debounce = nil
				if err := s.Reload(); err != nil {
					s.logger.Warn("Keeping previous settings", slog.String(errLoggerKey, err.Error()))
					continue
				}
				s.logger.Info("Settings reloaded")
			}
		}
	}()

	return nil
}

func (m modelSettings) modelInfo() models.ModelInfo {
	return models.ModelInfo{
		Provider:    strings.TrimSpace(m.Provider),
		Model:       strings.TrimSpace(m.Model),
		APIKey:      strings.TrimSpace(m.APIKey),
		BaseURL:     strings.TrimSpace(m.BaseURL),
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	}
}
