package domain

import "time"

// DisputeStatus tracks the dispute escalation path.
type DisputeStatus string

const (
	DisputeWaitingForSolver DisputeStatus = "WAITING_FOR_SOLVER"
	DisputeInProgress       DisputeStatus = "IN_PROGRESS"
	DisputeSettled          DisputeStatus = "SETTLED"
	DisputeSellerRefunded   DisputeStatus = "SELLER_REFUNDED"
	DisputeReleased         DisputeStatus = "RELEASED"
)

// Open reports whether the dispute still awaits a resolution.
func (s DisputeStatus) Open() bool {
	return s == DisputeWaitingForSolver || s == DisputeInProgress
}

// DisputeOutcome is the decision taken by a solver.
type DisputeOutcome string

const (
	// OutcomeSettle pays the buyer.
	OutcomeSettle DisputeOutcome = "settle"
	// OutcomeRefund cancels the hold invoice, returning the sats to the seller.
	OutcomeRefund DisputeOutcome = "refund"
	// OutcomeRelease withdraws the dispute and resumes the trade.
	OutcomeRelease DisputeOutcome = "release"
)

type Dispute struct {
	ID          string
	OrderID     string
	CommunityID string
	Initiator   Role
	SellerID    string
	BuyerID     string
	Status      DisputeStatus
	SolverID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
