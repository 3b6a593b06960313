package lightning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// MemoryNode is an in-process Lightning node used by the "memory" driver and
// by tests. It keeps hold invoices and outgoing payments in maps and never
// sends funds for the same request twice.
type MemoryNode struct {
	mu sync.Mutex

	invoices map[string]*memInvoice // by hash
	payable  map[string]domain.DecodedInvoice
	paid     map[string]domain.Payment
	pending  map[string]bool
	failNext map[string]int
	payCalls int

	// AcceptUnknown makes DecodeInvoice accept any request as a zero-amount
	// invoice that expires in an hour.
	AcceptUnknown bool
	// Unreachable makes every call fail with a retriable error.
	Unreachable bool
	// RoutingFee is reported on every successful payment.
	RoutingFee int64

	now func() time.Time
}

type memInvoice struct {
	secret  string
	request string
	amount  int64
	state   domain.InvoiceState
}

var _ domain.Gateway = (*MemoryNode)(nil)

// NewMemoryNode creates an empty node.
func NewMemoryNode() *MemoryNode {
	return &MemoryNode{
		invoices: make(map[string]*memInvoice),
		payable:  make(map[string]domain.DecodedInvoice),
		paid:     make(map[string]domain.Payment),
		pending:  make(map[string]bool),
		failNext: make(map[string]int),
		now:      time.Now,
	}
}

var errUnreachable = errors.New("connection refused")

func (n *MemoryNode) down(op string) error {
	if n.Unreachable {
		return &domain.GatewayError{Op: op, Err: errUnreachable, Retriable: true}
	}
	return nil
}

func (n *MemoryNode) CreateHoldInvoice(_ context.Context, amount int64, description string) (domain.HoldInvoice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("create hold invoice"); err != nil {
		return domain.HoldInvoice{}, err
	}
	secret, hash, err := NewPreimage()
	if err != nil {
		return domain.HoldInvoice{}, err
	}
	req := fmt.Sprintf("lnbcrt%dn1hold%s", amount, hash)
	n.invoices[hash] = &memInvoice{secret: secret, request: req, amount: amount, state: domain.InvoiceOpen}
	return domain.HoldInvoice{
		Request:   req,
		Hash:      hash,
		Secret:    secret,
		Amount:    amount,
		ExpiresAt: n.now().Add(time.Hour),
	}, nil
}

// Fund marks the hold invoice as paid by the seller (ACCEPTED).
func (n *MemoryNode) Fund(hash string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invoices[hash]
	if !ok {
		return fmt.Errorf("memory node: fund %s: %w", hash, domain.ErrNotFound)
	}
	if inv.state != domain.InvoiceOpen {
		return fmt.Errorf("memory node: fund %s: invoice is %s", hash, inv.state)
	}
	inv.state = domain.InvoiceAccepted
	return nil
}

func (n *MemoryNode) SettleHoldInvoice(_ context.Context, secret string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("settle hold invoice"); err != nil {
		return err
	}
	for _, inv := range n.invoices {
		if inv.secret != secret {
			continue
		}
		if inv.state != domain.InvoiceAccepted {
			return &domain.GatewayError{Op: "settle hold invoice", Err: fmt.Errorf("invoice is %s", inv.state)}
		}
		inv.state = domain.InvoiceSettled
		return nil
	}
	return &domain.GatewayError{Op: "settle hold invoice", Err: errors.New("unable to locate invoice")}
}

func (n *MemoryNode) CancelHoldInvoice(_ context.Context, hash string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("cancel hold invoice"); err != nil {
		return err
	}
	inv, ok := n.invoices[hash]
	if !ok {
		return &domain.GatewayError{Op: "cancel hold invoice", Err: errors.New("unable to locate invoice")}
	}
	if inv.state == domain.InvoiceSettled {
		return &domain.GatewayError{Op: "cancel hold invoice", Err: errors.New("invoice already settled")}
	}
	inv.state = domain.InvoiceCanceled
	return nil
}

func (n *MemoryNode) GetInvoice(_ context.Context, hash string) (domain.Invoice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("lookup invoice"); err != nil {
		return domain.Invoice{}, err
	}
	inv, ok := n.invoices[hash]
	if !ok {
		return domain.Invoice{}, &domain.GatewayError{Op: "lookup invoice", Err: domain.ErrNotFound}
	}
	return domain.Invoice{Hash: hash, State: inv.state, Amount: inv.amount}, nil
}

// AddPayable registers an invoice the node can pay.
func (n *MemoryNode) AddPayable(request string, amount int64, expiresAt time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payable[request] = domain.DecodedInvoice{
		Hash:      "h-" + request,
		Amount:    amount,
		CreatedAt: n.now(),
		ExpiresAt: expiresAt,
	}
}

// SetPending marks an outgoing payment for request as in flight.
func (n *MemoryNode) SetPending(request string, pending bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[request] = pending
}

// FailNext makes the next times payments to request fail.
func (n *MemoryNode) FailNext(request string, times int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext[request] = times
}

// Paid reports whether request was paid.
func (n *MemoryNode) Paid(request string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.paid[request]
	return ok
}

// PayCalls returns how many PayInvoice calls reached the node.
func (n *MemoryNode) PayCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.payCalls
}

// InvoiceState returns the state of one of our hold invoices.
func (n *MemoryNode) InvoiceState(hash string) domain.InvoiceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	if inv, ok := n.invoices[hash]; ok {
		return inv.state
	}
	return ""
}

func (n *MemoryNode) decode(request string) (domain.DecodedInvoice, error) {
	if d, ok := n.payable[request]; ok {
		return d, nil
	}
	if n.AcceptUnknown && strings.HasPrefix(request, "ln") {
		return domain.DecodedInvoice{Hash: "h-" + request, CreatedAt: n.now(), ExpiresAt: n.now().Add(time.Hour)}, nil
	}
	return domain.DecodedInvoice{}, fmt.Errorf("%w: unknown payment request", domain.ErrInvalidInvoice)
}

func (n *MemoryNode) DecodeInvoice(_ context.Context, request string) (domain.DecodedInvoice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("decode invoice"); err != nil {
		return domain.DecodedInvoice{}, err
	}
	return n.decode(request)
}

func (n *MemoryNode) PayInvoice(_ context.Context, request string, amount int64) (domain.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("pay invoice"); err != nil {
		return domain.Payment{}, err
	}
	n.payCalls++

	d, err := n.decode(request)
	if err != nil {
		return domain.Payment{}, err
	}
	if d.Expired(n.now()) {
		return domain.Payment{Hash: d.Hash, IsExpired: true}, nil
	}
	if p, ok := n.paid[request]; ok {
		// Like lnd, a request paid earlier reports the original payment
		// instead of sending the funds again.
		return p, nil
	}
	if n.failNext[request] > 0 {
		n.failNext[request]--
		return domain.Payment{}, &domain.GatewayError{
			Op:  "pay invoice",
			Err: fmt.Errorf("%w: no route", domain.ErrPaymentFailed),
		}
	}
	now := n.now().UTC()
	p := domain.Payment{Hash: d.Hash, ConfirmedAt: &now, Fee: n.RoutingFee}
	n.paid[request] = p
	return p, nil
}

func (n *MemoryNode) IsPaymentPending(_ context.Context, request string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("track payment"); err != nil {
		return false, err
	}
	return n.pending[request], nil
}

func (n *MemoryNode) LookupPayment(_ context.Context, request string) (domain.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("track payment"); err != nil {
		return domain.Payment{}, err
	}
	return n.paid[request], nil
}

func (n *MemoryNode) NodeInfo(_ context.Context) (domain.NodeInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.down("get info"); err != nil {
		return domain.NodeInfo{}, err
	}
	return domain.NodeInfo{Alias: "memory", SyncedToChain: true, CheckedAt: n.now().UTC()}, nil
}

// SetClock replaces the node clock.
func (n *MemoryNode) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}
