package config

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/ask-stream/internal/ask"
	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/MegaGrindStone/ask-stream/internal/services"
)

// Services are the collaborators the ask flow runs on, built from a Config.
type Services struct {
	Store    Store
	History  History
	Settings *services.Settings
}

// OpenServices opens the settings file, the store and the history named by c. A starter settings
// file is written when none exists. On error everything opened so far is released; otherwise
// the caller must Close the returned services.
func (c Config) OpenServices(logger *slog.Logger) (Services, error) {
	if err := services.EnsureSettings(c.SettingsPath); err != nil {
		return Services{}, err
	}
	settings, err := services.LoadSettings(c.SettingsPath, logger)
	if err != nil {
		return Services{}, err
	}
	settings.OnChange(func(prev, next models.ModelInfo) {
		logger.Info("Model changed",
			slog.String("from", prev.Provider+"/"+prev.Model),
			slog.String("to", next.Provider+"/"+next.Model))
	})

	store, err := c.OpenStore()
	if err != nil {
		return Services{}, errors.Join(err, settings.Close())
	}

	history, err := c.OpenHistory()
	if err != nil {
		return Services{}, errors.Join(err, store.Close(), settings.Close())
	}

	return Services{
		Store:    store,
		History:  history,
		Settings: settings,
	}, nil
}

// Deps returns the coordinator dependencies. Screen capture is only wired when a path is
// configured.
func (s Services) Deps(c Config, logger *slog.Logger) ask.Deps {
	deps := ask.Deps{
		Models:    s.Settings,
		History:   s.History,
		Store:     s.Store,
		Transport: services.NewOpenAITransport(&http.Client{}, logger),
	}
	if c.Screenshot.Path != "" {
		deps.Screenshots = services.NewFileScreenshot(c.Screenshot.Path, c.Screenshot.MaxAge, logger)
	}
	return deps
}

// Close releases the store, the history connection and the settings watcher.
func (s Services) Close() error {
	if s.Store == nil {
		return errors.New("services were not opened")
	}

	errs := []error{s.Store.Close(), s.Settings.Close()}
	if c, ok := s.History.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
