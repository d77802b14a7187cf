package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/ask"
	"github.com/MegaGrindStone/ask-stream/internal/config"
	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/MegaGrindStone/ask-stream/internal/services"
	"github.com/MegaGrindStone/ask-stream/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ask:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "ask a question about what is on screen and watch the answer stream in",
		ArgsUsage: "[question]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "print the answer to stdout instead of running the terminal UI",
			},
		},
		Action: runAsk,
		Commands: []*cli.Command{
			{
				Name:   "models",
				Usage:  "show the selected model and the models a local Ollama server has",
				Action: runModels,
			},
			{
				Name:   "sessions",
				Usage:  "list stored sessions",
				Action: runSessions,
			},
			{
				Name:   "new-session",
				Usage:  "close the active session so the next question starts a new one",
				Action: runNewSession,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	if path := cmd.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// openLog returns a logger writing next to the store, since the terminal belongs to the UI.
func openLog(cfg config.Config) (*slog.Logger, func(), error) {
	path := filepath.Join(filepath.Dir(cfg.Store.Path), "ask.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("error creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	return cfg.Logger(f), func() { f.Close() }, nil
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	svcs, err := cfg.OpenServices(logger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	broadcaster := ask.NewBroadcaster(nil)
	coordinator, err := ask.NewCoordinator(svcs.Deps(cfg, logger), broadcaster, logger)
	if err != nil {
		return err
	}

	question := strings.Join(cmd.Args().Slice(), " ")

	if cmd.Bool("plain") {
		if strings.TrimSpace(question) == "" {
			return errors.New("a question is required with --plain")
		}
		sink := newPlainSink(os.Stdout)
		broadcaster.Attach(sink)
		defer broadcaster.Detach()

		res := coordinator.Submit(ctx, question)
		sink.finish()
		if res.Err != nil {
			return res.Err
		}
		return nil
	}

	program := tea.NewProgram(tui.New(coordinator, question), tea.WithContext(ctx))
	sink := tui.NewProgramSink(program)
	broadcaster.Attach(sink)

	_, err = program.Run()
	sink.Stop()
	broadcaster.Detach()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := coordinator.Close(closeCtx); cerr != nil {
		logger.Warn("Request still running at exit", slog.String("error", cerr.Error()))
	}

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running terminal ui: %w", err)
	}
	return nil
}

func runModels(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := services.EnsureSettings(cfg.SettingsPath); err != nil {
		return err
	}
	settings, err := services.LoadSettings(cfg.SettingsPath, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer settings.Close()

	if info, ok := settings.Current(ctx); ok {
		fmt.Printf("selected: %s/%s\n", info.Provider, info.Model)
	} else {
		fmt.Printf("selected: none (edit %s)\n", cfg.SettingsPath)
	}

	ollama, err := services.NewOllamaModels()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	names, err := ollama.Names(ctx)
	if err != nil {
		fmt.Printf("ollama: unavailable (%v)\n", err)
		return nil
	}
	for _, name := range names {
		fmt.Printf("ollama: %s\n", name)
	}
	return nil
}

func runSessions(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCREATED\tACTIVE")
	for _, s := range sessions {
		active := ""
		if s.Active {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.CreatedAt.Local().Format(time.DateTime), active)
	}
	return w.Flush()
}

func runNewSession(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CloseActive(ctx, models.SessionKindAsk); err != nil {
		return err
	}
	fmt.Println("The next question starts a new session.")
	return nil
}
