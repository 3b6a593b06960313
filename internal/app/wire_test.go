package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/config"
	"github.com/lnp2pbot/escrowd/internal/lightning"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Postgres.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Lightning.Driver = "memory"
	return &cfg
}

func TestWireInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.Gateway.(*lightning.MemoryNode); !ok {
		t.Errorf("gateway = %T, want *lightning.MemoryNode", deps.Gateway)
	}
	if deps.Stores.Orders == nil || deps.Stores.Audit == nil {
		t.Error("in-memory stores not wired")
	}
	if deps.RateLimiter != nil || deps.NodeStatus != nil || deps.SignalBus != nil {
		t.Error("redis-backed dependencies wired without redis")
	}
	if deps.Reports != nil {
		t.Error("report archive wired without s3")
	}
	if len(deps.Health) != 0 {
		t.Errorf("health checks = %v, want none", deps.Health)
	}
	if deps.Notifier == nil {
		t.Error("notifier not wired")
	}
}

func TestBuildRunnerSchedulesEveryJob(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	a := New(cfg, logger)
	runner := a.buildRunner(deps, a.buildEngine(deps))
	if got := len(runner.Jobs()); got != 7 {
		t.Errorf("scheduled jobs = %d, want 7", got)
	}
}

func TestEngineConfigNormalisesCurrencies(t *testing.T) {
	cfg := config.Defaults()
	cfg.Orders.Currencies = []string{" usd", "Eur "}
	got := engineConfig(&cfg)
	if len(got.Currencies) != 2 || got.Currencies[0] != "USD" || got.Currencies[1] != "EUR" {
		t.Errorf("currencies = %v", got.Currencies)
	}
	if got.BotFee != cfg.Fees.BotFee || got.ReputationWindow != cfg.Orders.ReputationWindow.Duration {
		t.Errorf("engine config = %+v", got)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "bogus"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run accepted an unknown mode")
	}
}
