package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"arbor/internal/config"
	"arbor/internal/shared/observability"
)

const VERSION = "0.3.0"

var (
	configPath  = flag.String("config", "./arbor.toml", "Path to config file")
	uiMode      = flag.Bool("ui", false, "Run the interactive tree browser")
	validate    = flag.Bool("validate", false, "Validate structure ids and exit")
	seed        = flag.Int("seed", 0, "Seed the store with N sample branches and exit")
	seedLeaves  = flag.Int("seed-leaves", 10, "Leaves per sample branch when seeding")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbor %s\n", VERSION)
		return
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	// In UI mode, logs go to a file so they don't corrupt the terminal.
	logOutput := os.Stderr
	if *uiMode {
		if f, err := os.OpenFile("arbor.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			logOutput = f
			defer f.Close()
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("config not loaded, using defaults", "path", *configPath, "error", err)
		cfg = config.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	obsServer := NewObservabilityServer(cfg.Observability.Addr, app)
	if err := obsServer.Start(ctx); err != nil {
		slog.Error("observability server failed to start", "error", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obsServer.Stop(stopCtx)
	}()

	if *seed > 0 {
		if err := app.SeedSample(ctx, *seed, *seedLeaves); err != nil {
			slog.Error("seeding failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d branches with %d leaves each\n", *seed, *seedLeaves)
		return
	}

	if err := app.LoadTopLevel(ctx); err != nil {
		slog.Error("initial load failed", "error", err)
		os.Exit(1)
	}

	if *validate {
		report, err := app.ValidateIDs(ctx)
		if err != nil {
			slog.Error("validation failed", "error", err)
			os.Exit(1)
		}
		if report.IsValid {
			fmt.Println("All structure ids are well-formed and gap-free")
			return
		}
		fmt.Printf("Found %d issue(s):\n", len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Printf("  %s: %s (%s)\n", issue.NodeID, issue.Detail, issue.Kind)
		}
		os.Exit(1)
	}

	if *uiMode {
		p := tea.NewProgram(newBrowser(app), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			slog.Error("ui failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("arbor running", "version", VERSION, "addr", cfg.Observability.Addr)
	<-ctx.Done()
	slog.Info("shutting down")
}
