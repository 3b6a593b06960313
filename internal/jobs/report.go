package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// FinancialReporter aggregates completed-order financials over a rolling
// window, alerts admins when routing eats too much of the collected fees and
// archives every report.
type FinancialReporter struct {
	financial  domain.FinancialStore
	archiver   domain.ReportArchiver
	events     domain.EventPublisher
	window     time.Duration
	alertRatio float64
	logger     *slog.Logger
	now        func() time.Time
}

// NewFinancialReporter creates a FinancialReporter. archiver may be nil, in
// which case reports are only logged.
func NewFinancialReporter(
	financial domain.FinancialStore,
	archiver domain.ReportArchiver,
	events domain.EventPublisher,
	window time.Duration,
	alertRatio float64,
	logger *slog.Logger,
) *FinancialReporter {
	return &FinancialReporter{
		financial:  financial,
		archiver:   archiver,
		events:     events,
		window:     window,
		alertRatio: alertRatio,
		logger:     logger.With(slog.String("component", "financial_report")),
		now:        time.Now,
	}
}

// Build aggregates the transactions created in [to-window, to).
func (f *FinancialReporter) Build(ctx context.Context, to time.Time) (domain.FinancialReport, error) {
	from := to.Add(-f.window)
	txs, err := f.financial.ListBetween(ctx, from, to)
	if err != nil {
		return domain.FinancialReport{}, fmt.Errorf("report: list transactions: %w", err)
	}
	r := domain.FinancialReport{From: from, To: to}
	for _, tx := range txs {
		r.Orders++
		r.Volume += tx.Amount
		r.BotFees += tx.BotFee
		r.CommunityFees += tx.CommunityFee
		r.RoutingFees += tx.RoutingFee
		r.NetProfit += tx.NetProfit
	}
	return r, nil
}

// Run builds, checks and archives the report for the window ending now.
func (f *FinancialReporter) Run(ctx context.Context) error {
	r, err := f.Build(ctx, f.now().UTC())
	if err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "report: financial summary",
		slog.Int("orders", r.Orders),
		slog.Int64("volume", r.Volume),
		slog.Int64("bot_fees", r.BotFees),
		slog.Int64("community_fees", r.CommunityFees),
		slog.Int64("routing_fees", r.RoutingFees),
		slog.Int64("net_profit", r.NetProfit),
	)

	if ratio := r.RoutingRatio(); f.alertRatio > 0 && ratio > f.alertRatio {
		f.logger.WarnContext(ctx, "report: routing fees above threshold",
			slog.Float64("ratio", ratio),
			slog.Float64("threshold", f.alertRatio),
		)
		f.events.Publish(ctx, domain.Event{
			Type: domain.TopicRoutingFeeAlert,
			Data: map[string]any{
				"ratio":        ratio,
				"threshold":    f.alertRatio,
				"routing_fees": r.RoutingFees,
			},
		})
	}

	data := map[string]any{"orders": r.Orders, "net_profit": r.NetProfit}
	if f.archiver != nil {
		path, err := f.archiver.ArchiveReport(ctx, r)
		if err != nil {
			return fmt.Errorf("report: archive: %w", err)
		}
		data["path"] = path
	}
	f.events.Publish(ctx, domain.Event{Type: domain.TopicReportGenerated, Data: data})
	return nil
}
