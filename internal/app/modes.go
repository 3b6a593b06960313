package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lnp2pbot/escrowd/internal/cache/redis"
	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/eventbus"
	"github.com/lnp2pbot/escrowd/internal/jobs"
	"github.com/lnp2pbot/escrowd/internal/server"
	"github.com/lnp2pbot/escrowd/internal/server/handler"
	"github.com/lnp2pbot/escrowd/internal/server/ws"
	"github.com/lnp2pbot/escrowd/internal/service"
)

// engine is the set of services built on top of the wired dependencies.
type engine struct {
	bus         *eventbus.Bus
	transitions *service.Transitioner
	payouts     *service.PayoutService
	orders      *service.OrderService
	disputes    *service.DisputeService
	communities *service.CommunityService
}

// buildEngine creates the event bus and the services, and subscribes the
// notification and cross-process sinks.
func (a *App) buildEngine(deps *Dependencies) *engine {
	cfg := engineConfig(a.cfg)
	bus := eventbus.New(a.logger)

	st := deps.Stores
	tr := service.NewTransitioner(st.Orders, st.Audit, a.logger)
	rep := service.NewReputation(st.Orders, st.Users, cfg.ReputationWindow, a.logger)
	payouts := service.NewPayoutService(st, deps.Gateway, tr, rep, bus, a.logger)
	orders := service.NewOrderService(cfg, st, deps.Gateway, deps.Rates, bus, tr, payouts, a.logger)
	if deps.RateLimiter != nil {
		orders.WithRateLimiter(deps.RateLimiter)
	}

	bus.SubscribeAll(deps.Notifier.HandleEvent)
	if deps.SignalBus != nil {
		bus.SubscribeAll(deps.SignalBus.ForwardEvent)
	}

	return &engine{
		bus:         bus,
		transitions: tr,
		payouts:     payouts,
		orders:      orders,
		disputes:    service.NewDisputeService(st, deps.Gateway, tr, payouts, bus, a.logger),
		communities: service.NewCommunityService(st, deps.Gateway, cfg.MaxAttempts, a.logger),
	}
}

// FullMode runs the API and the reconciliation jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)

	runner := a.buildRunner(deps, eng)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// APIMode serves the HTTP API only. Jobs run in a separate process sharing
// Postgres and Redis.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildEngine(deps))
	return g.Wait()
}

// JobsMode runs the reconciliation jobs only.
func (a *App) JobsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting jobs mode")
	return a.buildRunner(deps, a.buildEngine(deps)).Run(ctx)
}

// buildRunner schedules every reconciliation job.
func (a *App) buildRunner(deps *Dependencies, eng *engine) *jobs.Runner {
	st := deps.Stores
	maxAttempts := a.cfg.Payments.MaxAttempts

	var archiver domain.ReportArchiver
	if deps.Reports != nil {
		archiver = deps.Reports
	}

	expiry := jobs.NewExpirySweeper(st, deps.Gateway, eng.transitions, eng.bus, jobs.ExpiryConfig{
		PublicationWindow: a.cfg.Orders.PublicationWindow.Duration,
		HoldInvoiceWindow: a.cfg.Orders.HoldInvoiceWindow.Duration,
		CltvDelta:         a.cfg.Orders.HoldInvoiceCltvDelta,
		SafetyWindow:      a.cfg.Orders.CltvSafetyWindow,
		BlockTime:         a.cfg.Orders.BlockTime.Duration,
	}, a.logger)
	retrier := jobs.NewPayoutRetrier(st, deps.Gateway, eng.payouts, eng.transitions, eng.bus, maxAttempts, a.logger)
	earnings := jobs.NewEarningsRollup(st, a.logger)
	communityPayouts := jobs.NewCommunityPayouts(st, deps.Gateway, eng.bus, maxAttempts, a.logger)
	watcher := jobs.NewInvoiceWatcher(st.Orders, deps.Gateway, eng.orders, a.logger)
	monitor := jobs.NewNodeMonitor(deps.Gateway, deps.NodeStatus, eng.bus, a.logger)
	reporter := jobs.NewFinancialReporter(st.Financial, archiver, eng.bus,
		a.cfg.Jobs.ReportWindow.Duration, a.cfg.Jobs.RoutingFeeAlertRatio, a.logger)

	report := jobs.Job{Name: "financial_report", Run: reporter.Run}
	if a.cfg.Jobs.ReportCron != "" {
		report.Cron = a.cfg.Jobs.ReportCron
	} else {
		report.Interval = a.cfg.Jobs.ReportInterval.Duration
	}

	return jobs.NewRunner(a.logger,
		jobs.Job{Name: "invoice_watcher", Interval: a.cfg.Jobs.InvoiceWatchInterval.Duration, Run: watcher.Run},
		jobs.Job{Name: "expiry_sweep", Interval: a.cfg.Jobs.ExpiryInterval.Duration, Run: expiry.Run},
		jobs.Job{Name: "payout_retry", Interval: a.cfg.Payments.RetryInterval.Duration, Run: retrier.Run},
		jobs.Job{Name: "earnings_rollup", Interval: a.cfg.Jobs.EarningsInterval.Duration, Run: earnings.Run},
		jobs.Job{Name: "community_payouts", Interval: a.cfg.Jobs.CommunityPayoutInterval.Duration, Run: communityPayouts.Run},
		jobs.Job{Name: "node_monitor", Interval: a.cfg.Jobs.NodeInfoInterval.Duration, Run: monitor.Run},
		report,
	)
}

// startHTTPServer adds the HTTP server, the WebSocket hub and its event feed
// to the errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	hubCfg := ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC()}
	if deps.SignalBus != nil {
		hubCfg.Replay = deps.SignalBus
		hubCfg.ReplayStream = redis.EventStream
	}
	hub := ws.NewHub(a.logger, hubCfg)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// With Redis every process forwards its events there, so the hub relays
	// that channel and sees jobs events too. Without it only local events
	// exist.
	if deps.SignalBus != nil {
		g.Go(func() error {
			if err := hub.Relay(ctx, deps.SignalBus, redis.EventChannel); err != nil {
				a.logger.ErrorContext(ctx, "ws relay stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	} else {
		eng.bus.SubscribeAll(hub.HandleEvent)
	}

	var reports handler.ReportReader
	if deps.Reports != nil {
		reports = deps.Reports
	}
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, deps.NodeStatus, a.logger),
		Orders:      handler.NewOrderHandler(eng.orders, a.logger),
		Disputes:    handler.NewDisputeHandler(eng.disputes, a.logger),
		Communities: handler.NewCommunityHandler(eng.communities, a.logger),
		Admin:       handler.NewAdminHandler(deps.Stores.Disputes, deps.Stores.Audit, reports, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Users:   deps.Stores.Users,
		Limiter: deps.RateLimiter,
	}, hub, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server: api_key is empty, authentication disabled")
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
}
