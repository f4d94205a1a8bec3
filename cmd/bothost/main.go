// Package main contains the entrypoint for the bot host.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/bothost/internal/app"
	"github.com/edgard/bothost/internal/config"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/provider/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run loads configuration, builds the host and blocks until shutdown. It
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	prov := telegram.New(telegram.Config{
		ServerURL:       cfg.Provider.APIURL,
		PollTimeout:     cfg.Provider.PollTimeout,
		RequestTimeout:  cfg.Provider.RequestTimeout,
		BreakerFailures: cfg.Provider.BreakerFailures,
	}, log)

	host, err := app.New(cfg, prov, log)
	if err != nil {
		log.Error("Failed to initialize bot host", "error", err)
		return 1
	}

	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bot host stopped due to error", "error", err)
		return 1
	}
	return 0
}
