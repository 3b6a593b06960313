// Command escrowd is the entry point for the Lightning escrow daemon. It loads
// configuration, validates it, sets up logging and signal handling, and starts
// the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lnp2pbot/escrowd/internal/app"
	"github.com/lnp2pbot/escrowd/internal/config"
	"github.com/lnp2pbot/escrowd/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptIn := flag.String("encrypt-macaroon", "", "encrypt the raw macaroon at this path and exit")
	encryptOut := flag.String("out", "macaroon.enc", "output path for -encrypt-macaroon")
	flag.Parse()

	if *encryptIn != "" {
		if err := encryptMacaroon(*encryptIn, *encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("escrowd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("escrowd stopped")
}

// newLogger builds the JSON logger at the configured level. When log_file is
// set every line is also written to a size-rotated file.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// encryptMacaroon writes the encrypted form of the macaroon at in to out. The
// password comes from ESCROWD_LIGHTNING_MACAROON_PASSWORD.
func encryptMacaroon(in, out string) error {
	password := os.Getenv("ESCROWD_LIGHTNING_MACAROON_PASSWORD")
	if password == "" {
		return errors.New("ESCROWD_LIGHTNING_MACAROON_PASSWORD is not set")
	}
	raw, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read macaroon: %w", err)
	}
	blob, err := crypto.EncryptMacaroon(raw, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("encrypted macaroon written to %s\n", out)
	return nil
}
