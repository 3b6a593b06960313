package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/eventbus"
	"github.com/lnp2pbot/escrowd/internal/lightning"
	"github.com/lnp2pbot/escrowd/internal/service"
	"github.com/lnp2pbot/escrowd/internal/store/memstore"
)

type env struct {
	ctx     context.Context
	st      domain.Stores
	node    *lightning.MemoryNode
	bus     *eventbus.Bus
	tr      *service.Transitioner
	payouts *service.PayoutService
	logger  *slog.Logger

	mu     sync.Mutex
	events []domain.Event
}

func newEnv(t *testing.T, wrap ...func(*domain.Stores)) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New().Stores()
	for _, w := range wrap {
		w(&st)
	}
	e := &env{
		ctx:    context.Background(),
		st:     st,
		node:   lightning.NewMemoryNode(),
		bus:    eventbus.New(logger),
		logger: logger,
	}
	e.bus.SubscribeAll(func(_ context.Context, ev domain.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.events = append(e.events, ev)
		return nil
	})
	e.tr = service.NewTransitioner(st.Orders, st.Audit, logger)
	rep := service.NewReputation(st.Orders, st.Users, 24*time.Hour, logger)
	e.payouts = service.NewPayoutService(st, e.node, e.tr, rep, e.bus, logger)
	for _, id := range []string{"buyer", "seller", "creator"} {
		if err := st.Users.Create(e.ctx, domain.User{ID: id}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	if err := st.Communities.Create(e.ctx, domain.Community{ID: "c1", Name: "c1", CreatorID: "creator", Fee: 30}); err != nil {
		t.Fatalf("create community: %v", err)
	}
	return e
}

func (e *env) count(t domain.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (e *env) seedOrder(t *testing.T, o domain.Order) domain.Order {
	t.Helper()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := e.st.Orders.Create(e.ctx, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func (e *env) holdInvoice(t *testing.T, o *domain.Order, fund bool) {
	t.Helper()
	inv, err := e.node.CreateHoldInvoice(e.ctx, o.SellerAmount(), "test")
	if err != nil {
		t.Fatalf("CreateHoldInvoice: %v", err)
	}
	o.Hash, o.Secret, o.HoldInvoice = inv.Hash, inv.Secret, inv.Request
	if fund {
		if err := e.node.Fund(inv.Hash); err != nil {
			t.Fatalf("Fund: %v", err)
		}
	}
}

// orderService builds the order commands on top of the env, with payouts
// retried up to maxAttempts times.
func (e *env) orderService(maxAttempts int) *service.OrderService {
	cfg := service.EngineConfig{BotFee: 0.01, MaxAmount: 10_000_000, MaxAttempts: maxAttempts}
	return service.NewOrderService(cfg, e.st, e.node, nil, e.bus, e.tr, e.payouts, e.logger)
}

// releasedOrder seeds an order whose escrow was settled but whose buyer was
// not paid yet, plus the pending payout for it.
func (e *env) releasedOrder(t *testing.T, invoice string) (domain.Order, domain.PendingPayment) {
	t.Helper()
	taken := time.Now().Add(-time.Hour)
	o := e.seedOrder(t, domain.Order{
		ID:           "o-" + invoice,
		Type:         domain.OrderTypeSell,
		SellerID:     "seller",
		BuyerID:      "buyer",
		CreatorID:    "seller",
		Amount:       100_000,
		Fee:          1000,
		BotFee:       0.01,
		BuyerInvoice: invoice,
		Status:       domain.OrderStatusPaidHoldInvoice,
		TakenAt:      &taken,
	})
	pp := domain.PendingPayment{
		ID:             "pp-" + invoice,
		OrderID:        o.ID,
		UserID:         "buyer",
		Amount:         o.Amount,
		PaymentRequest: invoice,
		CreatedAt:      time.Now(),
	}
	if err := e.st.Payments.Create(e.ctx, pp); err != nil {
		t.Fatalf("create pending payment: %v", err)
	}
	return o, pp
}

func TestPayoutRetrierPaysOnce(t *testing.T) {
	e := newEnv(t)
	e.node.AddPayable("lnretry", 0, time.Now().Add(time.Hour))
	o, pp := e.releasedOrder(t, "lnretry")
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 3, e.logger)

	for range 3 {
		if err := r.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if calls := e.node.PayCalls(); calls != 1 {
		t.Errorf("pay calls = %d, want 1", calls)
	}
	got, _ := e.st.Orders.GetByID(e.ctx, o.ID)
	if got.Status != domain.OrderStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", got.Status)
	}
	paid, _ := e.st.Payments.GetByID(e.ctx, pp.ID)
	if !paid.Paid || paid.PaidAt == nil || paid.Attempts != 1 {
		t.Errorf("pending payment = %+v", paid)
	}
	txs, _ := e.st.Financial.ListBetween(e.ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(txs) != 1 {
		t.Errorf("financial transactions = %d, want 1", len(txs))
	}
	u, _ := e.st.Users.GetByID(e.ctx, "buyer")
	if u.TradesCompleted != 1 {
		t.Errorf("buyer trades = %d, want 1", u.TradesCompleted)
	}
}

func TestPayoutRetrierWaitsForInFlightPayment(t *testing.T) {
	e := newEnv(t)
	e.node.AddPayable("lnflight", 0, time.Now().Add(time.Hour))
	_, pp := e.releasedOrder(t, "lnflight")
	e.node.SetPending("lnflight", true)
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 3, e.logger)

	if err := r.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.node.PayCalls() != 0 {
		t.Error("paid while a payment was in flight")
	}
	got, _ := e.st.Payments.GetByID(e.ctx, pp.ID)
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
}

func TestPayoutRetrierNotifiesExhaustionOnce(t *testing.T) {
	e := newEnv(t)
	e.node.AddPayable("lnbroken", 0, time.Now().Add(time.Hour))
	o, pp := e.releasedOrder(t, "lnbroken")
	e.node.FailNext("lnbroken", 10)
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 2, e.logger)

	for range 4 {
		if err := r.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if calls := e.node.PayCalls(); calls != 2 {
		t.Errorf("pay calls = %d, want 2", calls)
	}
	if n := e.count(domain.TopicPayoutExhausted); n != 1 {
		t.Errorf("exhausted notifications = %d, want 1", n)
	}
	got, _ := e.st.Payments.GetByID(e.ctx, pp.ID)
	if got.Attempts != 2 || got.Resolved() {
		t.Errorf("pending payment = %+v", got)
	}
	if ord, _ := e.st.Orders.GetByID(e.ctx, o.ID); ord.Status != domain.OrderStatusPaidHoldInvoice {
		t.Errorf("status = %s, want PAID_HOLD_INVOICE", ord.Status)
	}
}

func TestExhaustedPayoutAcceptsNewInvoice(t *testing.T) {
	e := newEnv(t)
	e.node.AddPayable("lnbroken", 0, time.Now().Add(time.Hour))
	o, _ := e.releasedOrder(t, "lnbroken")
	e.node.FailNext("lnbroken", 10)
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 2, e.logger)
	for range 2 {
		if err := r.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if n := e.count(domain.TopicPayoutExhausted); n != 1 {
		t.Fatalf("exhausted notifications = %d, want 1", n)
	}

	e.node.AddPayable("lnfresh", 0, time.Now().Add(time.Hour))
	orders := e.orderService(2)
	if _, err := orders.AddBuyerInvoice(e.ctx, domain.User{ID: "buyer"}, o.ID, "lnfresh"); err != nil {
		t.Fatalf("AddBuyerInvoice: %v", err)
	}
	if err := r.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !e.node.Paid("lnfresh") {
		t.Error("new invoice not paid")
	}
	if got, _ := e.st.Orders.GetByID(e.ctx, o.ID); got.Status != domain.OrderStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", got.Status)
	}
}

// failSuccessOnce fails the first write that moves an order to SUCCESS.
type failSuccessOnce struct {
	domain.OrderStore
	failed bool
}

func (s *failSuccessOnce) Update(ctx context.Context, o domain.Order, expected domain.OrderStatus) error {
	if o.Status == domain.OrderStatusSuccess && !s.failed {
		s.failed = true
		return errors.New("connection reset")
	}
	return s.OrderStore.Update(ctx, o, expected)
}

func TestPayoutRetrierCompletesOrderBeforeResolvingPayment(t *testing.T) {
	orders := &failSuccessOnce{}
	e := newEnv(t, func(st *domain.Stores) {
		orders.OrderStore = st.Orders
		st.Orders = orders
	})
	e.node.AddPayable("lnfirst", 0, time.Now().Add(time.Hour))
	o, pp := e.releasedOrder(t, "lnfirst")
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 3, e.logger)

	if err := r.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !e.node.Paid("lnfirst") {
		t.Fatal("first invoice not paid")
	}
	if got, _ := e.st.Payments.GetByID(e.ctx, pp.ID); got.Resolved() {
		t.Fatalf("payment resolved while the order is %s", o.Status)
	}

	e.node.AddPayable("lnsecond", 0, time.Now().Add(time.Hour))
	if _, err := e.orderService(3).AddBuyerInvoice(e.ctx, domain.User{ID: "buyer"}, o.ID, "lnsecond"); !errors.Is(err, domain.ErrPayoutInProgress) {
		t.Errorf("AddBuyerInvoice err = %v, want ErrPayoutInProgress", err)
	}

	if err := r.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, _ := e.st.Orders.GetByID(e.ctx, o.ID); got.Status != domain.OrderStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", got.Status)
	}
	if got, _ := e.st.Payments.GetByID(e.ctx, pp.ID); !got.Paid {
		t.Error("payment not resolved after the order completed")
	}
	if e.node.Paid("lnsecond") {
		t.Error("buyer paid twice")
	}
	txs, _ := e.st.Financial.ListBetween(e.ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(txs) != 1 {
		t.Errorf("financial transactions = %d, want 1", len(txs))
	}
}

func TestPayoutRetrierFlagsExpiredInvoice(t *testing.T) {
	e := newEnv(t)
	e.node.AddPayable("lnold", 0, time.Now().Add(-time.Minute))
	o, pp := e.releasedOrder(t, "lnold")
	o.PaidHoldBuyerInvoiceUpdated = true
	if err := e.st.Orders.Update(e.ctx, o, o.Status); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 3, e.logger)

	for range 2 {
		if err := r.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	got, _ := e.st.Payments.GetByID(e.ctx, pp.ID)
	if !got.IsInvoiceExpired {
		t.Error("pending payment not flagged expired")
	}
	if ord, _ := e.st.Orders.GetByID(e.ctx, o.ID); ord.PaidHoldBuyerInvoiceUpdated {
		t.Error("PaidHoldBuyerInvoiceUpdated not cleared")
	}
	if n := e.count(domain.TopicPayoutInvoiceExpired); n != 1 {
		t.Errorf("expired prompts = %d, want 1", n)
	}
}

func TestPayoutRetrierResolvesStrayPayment(t *testing.T) {
	e := newEnv(t)
	o, pp := e.releasedOrder(t, "lnstray")
	o.Status = domain.OrderStatusSuccess
	if err := e.st.Orders.Update(e.ctx, o, domain.OrderStatusPaidHoldInvoice); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r := NewPayoutRetrier(e.st, e.node, e.payouts, e.tr, e.bus, 3, e.logger)
	if err := r.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.node.PayCalls() != 0 {
		t.Error("stray payment was paid")
	}
	if got, _ := e.st.Payments.GetByID(e.ctx, pp.ID); !got.Paid {
		t.Error("stray payment not resolved")
	}
}

func TestEarningsRollupCreditsOnce(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, domain.Order{
		ID:           "o1",
		CommunityID:  "c1",
		Amount:       100_000,
		Fee:          790,
		BotFee:       0.01,
		CommunityFee: 0.7,
		Status:       domain.OrderStatusSuccess,
	})
	e.seedOrder(t, domain.Order{
		ID:          "orphan",
		CommunityID: "gone",
		Amount:      100_000,
		Fee:         790,
		Status:      domain.OrderStatusSuccess,
	})
	job := NewEarningsRollup(e.st, e.logger)

	for range 2 {
		if err := job.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	c, _ := e.st.Communities.GetByID(e.ctx, "c1")
	if c.Earnings != 90 || c.OrdersToRedeem != 1 {
		t.Errorf("community = %d earnings / %d orders, want 90/1", c.Earnings, c.OrdersToRedeem)
	}
	if o, _ := e.st.Orders.GetByID(e.ctx, "orphan"); o.Calculated {
		t.Error("order with missing community marked calculated")
	}
}

func TestCommunityPayoutsDebitOnConfirmation(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, domain.Order{ID: "o1", CommunityID: "c1", Status: domain.OrderStatusSuccess})
	if _, err := e.st.Communities.CreditOrderEarnings(e.ctx, "o1", "c1", 90); err != nil {
		t.Fatalf("CreditOrderEarnings: %v", err)
	}
	e.node.AddPayable("lncommunity", 0, time.Now().Add(time.Hour))
	e.node.FailNext("lncommunity", 1)
	pp := domain.PendingPayment{ID: "w1", CommunityID: "c1", UserID: "creator", Amount: 90, PaymentRequest: "lncommunity"}
	if err := e.st.Payments.Create(e.ctx, pp); err != nil {
		t.Fatalf("create: %v", err)
	}
	job := NewCommunityPayouts(e.st, e.node, e.bus, 3, e.logger)

	if err := job.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c, _ := e.st.Communities.GetByID(e.ctx, "c1"); c.Earnings != 90 {
		t.Fatalf("earnings debited after failed payment: %d", c.Earnings)
	}

	for range 2 {
		if err := job.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	c, _ := e.st.Communities.GetByID(e.ctx, "c1")
	if c.Earnings != 0 || c.OrdersToRedeem != 0 {
		t.Errorf("community = %d/%d, want 0/0", c.Earnings, c.OrdersToRedeem)
	}
	if n := e.count(domain.TopicCommunityPaid); n != 1 {
		t.Errorf("paid events = %d, want 1", n)
	}
	if calls := e.node.PayCalls(); calls != 2 {
		t.Errorf("pay calls = %d, want 2", calls)
	}
}

func TestExpirySweeper(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	stale := domain.Order{ID: "stale-wait", SellerID: "seller", BuyerID: "buyer", Amount: 1000,
		Status: domain.OrderStatusWaitingPayment, TakenAt: ago(20 * time.Minute), CreatedAt: now.Add(-time.Hour)}
	e.holdInvoice(t, &stale, false)
	e.seedOrder(t, stale)
	e.seedOrder(t, domain.Order{ID: "fresh-wait", SellerID: "seller", BuyerID: "buyer",
		Status: domain.OrderStatusWaitingBuyerInvoice, TakenAt: ago(5 * time.Minute), CreatedAt: now.Add(-time.Hour)})

	old := domain.Order{ID: "old-pending", Type: domain.OrderTypeSell, SellerID: "seller", Amount: 1000,
		Status: domain.OrderStatusPending, CreatedAt: now.Add(-24 * time.Hour)}
	e.holdInvoice(t, &old, true)
	e.seedOrder(t, old)
	e.seedOrder(t, domain.Order{ID: "new-pending", Status: domain.OrderStatusPending, CreatedAt: now.Add(-time.Hour)})

	e.seedOrder(t, domain.Order{ID: "late-active", SellerID: "seller", BuyerID: "buyer",
		Status: domain.OrderStatusFiatSent, InvoiceHeldAt: ago(21 * time.Hour), CreatedAt: now.Add(-22 * time.Hour)})
	e.seedOrder(t, domain.Order{ID: "ok-active", SellerID: "seller", BuyerID: "buyer",
		Status: domain.OrderStatusActive, InvoiceHeldAt: ago(2 * time.Hour), CreatedAt: now.Add(-3 * time.Hour)})
	e.seedOrder(t, domain.Order{ID: "late-dispute", SellerID: "seller", BuyerID: "buyer",
		Status: domain.OrderStatusDispute, InvoiceHeldAt: ago(21 * time.Hour), CreatedAt: now.Add(-22 * time.Hour)})

	s := NewExpirySweeper(e.st, e.node, e.tr, e.bus, ExpiryConfig{
		PublicationWindow: 23 * time.Hour,
		HoldInvoiceWindow: 15 * time.Minute,
		CltvDelta:         144,
		SafetyWindow:      24,
		BlockTime:         10 * time.Minute,
	}, e.logger)
	s.now = func() time.Time { return now }

	for range 2 {
		if err := s.Run(e.ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	want := map[string]domain.OrderStatus{
		"stale-wait":   domain.OrderStatusCanceled,
		"fresh-wait":   domain.OrderStatusWaitingBuyerInvoice,
		"new-pending":  domain.OrderStatusPending,
		"late-active":  domain.OrderStatusExpired,
		"ok-active":    domain.OrderStatusActive,
		"late-dispute": domain.OrderStatusDispute,
	}
	for id, status := range want {
		o, err := e.st.Orders.GetByID(e.ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s): %v", id, err)
		}
		if o.Status != status {
			t.Errorf("%s status = %s, want %s", id, o.Status, status)
		}
	}
	if _, err := e.st.Orders.GetByID(e.ctx, "old-pending"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old pending order not deleted: %v", err)
	}
	if got := e.node.InvoiceState(stale.Hash); got != domain.InvoiceCanceled {
		t.Errorf("stale hold invoice = %s", got)
	}
	if got := e.node.InvoiceState(old.Hash); got != domain.InvoiceCanceled {
		t.Errorf("old pending hold invoice = %s", got)
	}
	if d, _ := e.st.Orders.GetByID(e.ctx, "late-dispute"); !d.AdminWarned {
		t.Error("dispute admins not warned")
	}
	if n := e.count(domain.TopicAdminWarning); n != 2 {
		t.Errorf("admin warnings = %d, want 2 (one expired, one dispute)", n)
	}
}

type recordingArchiver struct {
	reports []domain.FinancialReport
}

func (a *recordingArchiver) ArchiveReport(_ context.Context, r domain.FinancialReport) (string, error) {
	a.reports = append(a.reports, r)
	return "reports/test.json", nil
}

func TestFinancialReporterAlertsOnRoutingFees(t *testing.T) {
	e := newEnv(t)
	now := time.Now().UTC()
	for i, routing := range []int64{400, 200} {
		err := e.st.Financial.Create(e.ctx, domain.FinancialTransaction{
			ID:         string(rune('a' + i)),
			OrderID:    string(rune('a' + i)),
			Amount:     100_000,
			BotFee:     500,
			RoutingFee: routing,
			NetProfit:  500 - routing,
			CreatedAt:  now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("create tx: %v", err)
		}
	}
	arch := &recordingArchiver{}
	rep := NewFinancialReporter(e.st.Financial, arch, e.bus, 24*time.Hour, 0.5, e.logger)
	rep.now = func() time.Time { return now }

	if err := rep.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(arch.reports) != 1 {
		t.Fatalf("archived reports = %d", len(arch.reports))
	}
	r := arch.reports[0]
	if r.Orders != 2 || r.BotFees != 1000 || r.RoutingFees != 600 || r.NetProfit != 400 {
		t.Errorf("report = %+v", r)
	}
	if e.count(domain.TopicRoutingFeeAlert) != 1 {
		t.Error("routing fee alert not published")
	}
	if e.count(domain.TopicReportGenerated) != 1 {
		t.Error("report.generated not published")
	}
}

type recordingFunding struct {
	ids []string
}

func (f *recordingFunding) OnHoldInvoiceAccepted(_ context.Context, id string) (domain.Order, error) {
	f.ids = append(f.ids, id)
	return domain.Order{ID: id}, nil
}

func TestInvoiceWatcherReportsAcceptedInvoices(t *testing.T) {
	e := newEnv(t)
	paid := domain.Order{ID: "paid", Amount: 1000, Status: domain.OrderStatusWaitingPayment}
	e.holdInvoice(t, &paid, true)
	e.seedOrder(t, paid)
	unpaid := domain.Order{ID: "unpaid", Amount: 1000, Status: domain.OrderStatusWaitingPayment}
	e.holdInvoice(t, &unpaid, false)
	e.seedOrder(t, unpaid)
	e.seedOrder(t, domain.Order{ID: "no-invoice", Status: domain.OrderStatusPending})

	h := &recordingFunding{}
	w := NewInvoiceWatcher(e.st.Orders, e.node, h, e.logger)
	if err := w.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.ids) != 1 || h.ids[0] != "paid" {
		t.Errorf("funded orders = %v, want [paid]", h.ids)
	}
}

type memoryNodeStatus struct {
	info domain.NodeInfo
	sets int
}

func (m *memoryNodeStatus) SetNodeInfo(_ context.Context, info domain.NodeInfo) error {
	m.info = info
	m.sets++
	return nil
}

func (m *memoryNodeStatus) GetNodeInfo(context.Context) (domain.NodeInfo, error) {
	return m.info, nil
}

func TestNodeMonitorWarnsOncePerOutage(t *testing.T) {
	e := newEnv(t)
	cache := &memoryNodeStatus{}
	m := NewNodeMonitor(e.node, cache, e.bus, e.logger)

	if err := m.Run(e.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cache.sets != 1 || !cache.info.SyncedToChain {
		t.Errorf("cache = %+v (%d sets)", cache.info, cache.sets)
	}

	e.node.Unreachable = true
	for range 3 {
		_ = m.Run(e.ctx)
	}
	e.node.Unreachable = false
	_ = m.Run(e.ctx)
	e.node.Unreachable = true
	_ = m.Run(e.ctx)

	if n := e.count(domain.TopicAdminWarning); n != 2 {
		t.Errorf("warnings = %d, want 2", n)
	}
}

func TestCronNext(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"0 3 * * *", time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 1, 1, 4, 7, 30, 0, time.UTC), time.Date(2024, 1, 1, 4, 15, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		sched, err := parseCron(tt.expr)
		if err != nil {
			t.Fatalf("parseCron(%q): %v", tt.expr, err)
		}
		got, err := sched.next(tt.after)
		if err != nil {
			t.Fatalf("next(%q): %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("next(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
	for _, bad := range []string{"* * *", "61 * * * *", "*/0 * * * *", "a * * * *"} {
		if _, err := parseCron(bad); err == nil {
			t.Errorf("parseCron(%q) accepted", bad)
		}
	}
}

func TestRunnerStopsCleanly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 10)
	r := NewRunner(logger,
		Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return errors.New("always fails")
		}},
		Job{Name: "unscheduled", Run: func(context.Context) error {
			t.Error("unscheduled job ran")
			return nil
		}},
	)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	for range 3 {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not tick")
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
