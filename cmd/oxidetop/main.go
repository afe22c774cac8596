// Command oxidetop runs the same pipelines as oxide but renders their stats
// as a live terminal dashboard instead of structured log lines. When stdout
// isn't a TTY (piped output, a unit file without a console) it falls back
// to oxide's own styled-logger reporting so it's still useful in a script.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/thushan/oxide/internal/app"
	"github.com/thushan/oxide/internal/config"
	"github.com/thushan/oxide/internal/dashboard"
	"github.com/thushan/oxide/internal/env"
	"github.com/thushan/oxide/internal/logger"
	"github.com/thushan/oxide/internal/version"
)

func main() {
	vlog := log.New(log.Writer(), "", 0)
	version.PrintVersionInfo(false, vlog)

	lcfg := &logger.Config{
		Level:      env.GetEnvOrDefault("OXIDE_LOG_LEVEL", "warn"),
		FileOutput: env.GetEnvBoolOrDefault("OXIDE_FILE_OUTPUT", true),
		LogDir:     env.GetEnvOrDefault("OXIDE_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("OXIDE_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("OXIDE_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("OXIDE_MAX_AGE", 30),
		Theme:      env.GetEnvOrDefault("OXIDE_THEME", "default"),
	}
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	cfg, err := config.Load(func() {
		styledLogger.Info("configuration file changed; restart to apply engine.* changes")
	})
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to load configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	application, err := app.New(cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to create application", "error", err)
	}
	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start application", "error", err)
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		runDashboard(ctx, application, styledLogger)
	} else {
		styledLogger.Info("stdout is not a tty, falling back to periodic stats logging")
		runHeadless(ctx, application, styledLogger)
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}
}

func runDashboard(ctx context.Context, application *app.Application, log *logger.StyledLogger) {
	statsSvc, err := application.Registry().GetStats()
	if err != nil {
		log.Error("dashboard unavailable", "error", err)
		return
	}
	pipelineSvc, err := application.Registry().GetPipelines()
	if err != nil {
		log.Error("dashboard unavailable", "error", err)
		return
	}

	source := dashboard.NewFromRegistry(statsSvc, pipelineSvc)
	program := tea.NewProgram(dashboard.New(source))

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		log.Error("dashboard exited with error", "error", err)
	}
}

func runHeadless(ctx context.Context, application *app.Application, log *logger.StyledLogger) {
	statsSvc, err := application.Registry().GetStats()
	if err != nil {
		log.Error("stats unavailable", "error", err)
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := statsSvc.GetCollector().Snapshot()
			log.Info("pipeline stats",
				"client_segments", snap.TCPCounterClient,
				"server_segments", snap.TCPCounterServer,
				"tx", snap.TXCounter,
				"setup_p50_us", snap.SetupLatencyP50Us,
				"hold_p50_ms", snap.HoldTimeP50Ms,
			)
		}
	}
}
