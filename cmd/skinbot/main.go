// Command skinbot scans skin marketplaces for arbitrage opportunities. It
// loads and validates configuration, sets up signal handling and runs the
// configured mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/skinbot/internal/app"
	"github.com/alanyoungcy/skinbot/internal/config"
	"github.com/alanyoungcy/skinbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (scan, watch, serve, all, cleanup)")
	sealKey := flag.String("seal-key", "", "encrypt marketplace.secret_key with marketplace.key_password into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	if *sealKey != "" {
		if err := writeSealedKey(*sealKey, cfg.Marketplace.SecretKey, cfg.Marketplace.KeyPassword); err != nil {
			fmt.Fprintf(os.Stderr, "seal key: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "sealed key written to %s\n", *sealKey)
		return
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("skinbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("skinbot stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeSealedKey(path, secretHex, password string) error {
	if secretHex == "" || password == "" {
		return fmt.Errorf("marketplace.secret_key and marketplace.key_password must both be set")
	}
	sealed, err := crypto.SealKey(secretHex, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}
