package domain

import "time"

// Solver is a user allowed to resolve disputes for a community.
type Solver struct {
	ID       string
	Username string
}

// Community groups orders and receives a share of the bot fee. Fee is the
// percentage of the non-bot share of the fee the community keeps.
type Community struct {
	ID             string
	Name           string
	CreatorID      string
	Fee            float64
	Earnings       int64
	OrdersToRedeem int
	Solvers        []Solver
	Currencies     []string
	DisputeChannel string
	CreatedAt      time.Time
}

// IsSolver reports whether userID is registered as a solver.
func (c Community) IsSolver(userID string) bool {
	for _, s := range c.Solvers {
		if s.ID == userID {
			return true
		}
	}
	return false
}
