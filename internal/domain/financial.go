package domain

import "time"

// FinancialTransaction records the money movement of one completed order.
type FinancialTransaction struct {
	ID           string
	OrderID      string
	CommunityID  string
	Amount       int64
	BotFee       int64
	CommunityFee int64
	RoutingFee   int64
	NetProfit    int64
	CreatedAt    time.Time
}

// FinancialReport aggregates transactions over a window.
type FinancialReport struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Orders        int       `json:"orders"`
	Volume        int64     `json:"volume"`
	BotFees       int64     `json:"bot_fees"`
	CommunityFees int64     `json:"community_fees"`
	RoutingFees   int64     `json:"routing_fees"`
	NetProfit     int64     `json:"net_profit"`
}

// RoutingRatio is routing fees over total fees collected. Zero when no fees
// were collected.
func (r FinancialReport) RoutingRatio() float64 {
	total := r.BotFees + r.CommunityFees
	if total == 0 {
		return 0
	}
	return float64(r.RoutingFees) / float64(total)
}
