package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/MegaGrindStone/ask-stream/internal/services"
)

func TestSettingsCurrent(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		env    map[string]string
		want   models.ModelInfo
		wantOK bool
	}{
		{
			name: "Defaults filled in",
			file: "provider: openai\nmodel: gpt-4o\napiKey: sk-file\n",
			want: models.ModelInfo{
				Provider: "openai", Model: "gpt-4o", APIKey: "sk-file",
				Temperature: 0.7, MaxTokens: 2048,
			},
			wantOK: true,
		},
		{
			name: "Environment overrides file",
			file: "provider: openai\nmodel: gpt-4o\napiKey: sk-file\ntemperature: 0.2\n",
			env:  map[string]string{"ASK_MODEL": "gpt-4o-mini", "ASK_API_KEY": "sk-env"},
			want: models.ModelInfo{
				Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-env",
				Temperature: 0.2, MaxTokens: 2048,
			},
			wantOK: true,
		},
		{
			name: "No model selected",
			file: "provider: openrouter\n",
			want: models.ModelInfo{
				Provider: "openrouter", Temperature: 0.7, MaxTokens: 2048,
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeSettings(t, tt.file)

			s, err := services.LoadSettings(path, discardLogger())
			if err != nil {
				t.Fatalf("LoadSettings() error = %v", err)
			}
			defer s.Close()

			got, ok := s.Current(context.Background())
			if ok != tt.wantOK {
				t.Errorf("Current() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Current() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSettingsReload(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeSettings(t, "provider: openai\nmodel: gpt-4o\napiKey: sk-1\n")

	s, err := services.LoadSettings(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	defer s.Close()

	var mu sync.Mutex
	var changes []string
	s.OnChange(func(old, new models.ModelInfo) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, old.Model+"->"+new.Model)
	})

	if err := os.WriteFile(path, []byte("provider: openai\nmodel: gpt-4.1\napiKey: sk-1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got, _ := s.Current(context.Background()); got.Model != "gpt-4.1" {
		t.Errorf("Current().Model = %q after reload, want gpt-4.1", got.Model)
	}
	mu.Lock()
	if len(changes) != 1 || changes[0] != "gpt-4o->gpt-4.1" {
		t.Errorf("change callbacks = %q", changes)
	}
	mu.Unlock()

	if err := os.WriteFile(path, []byte("model: [unterminated\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Error("Reload() of a broken file should fail")
	}
	if got, ok := s.Current(context.Background()); !ok || got.Model != "gpt-4.1" {
		t.Errorf("Current() = %+v, %v after failed reload, want previous settings", got, ok)
	}
}

func TestSettingsWatchReloadsConcurrently(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeSettings(t, "provider: openai\nmodel: gpt-4o\napiKey: sk-1\n")

	s, err := services.LoadSettings(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = s.Reload()
				s.Current(context.Background())
			}
		}()
	}
	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("provider: openai\nmodel: gpt-%d\napiKey: sk-1\n", i)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if got, _ := s.Current(context.Background()); got.Model == "gpt-4" {
			break
		}
		if time.Now().After(deadline) {
			got, _ := s.Current(context.Background())
			t.Fatalf("Current().Model = %q, want the last written gpt-4", got.Model)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := services.LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"), discardLogger())
	if err == nil {
		t.Error("LoadSettings() of a missing file should fail")
	}
}

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnsureSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	if err := services.EnsureSettings(path); err != nil {
		t.Fatalf("EnsureSettings() error = %v", err)
	}

	s, err := services.LoadSettings(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	defer s.Close()
	info, ok := s.Current(context.Background())
	if !ok || info.Provider != "openai" || info.Model != "gpt-4o-mini" {
		t.Errorf("Current() = %+v, %v", info, ok)
	}

	if err := os.WriteFile(path, []byte("provider: ollama\nmodel: llama3\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := services.EnsureSettings(path); err != nil {
		t.Fatalf("EnsureSettings() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "provider: ollama\nmodel: llama3\n" {
		t.Errorf("existing settings were overwritten: %q", content)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
