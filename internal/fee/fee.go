// Package fee computes the bot and community cut of a trade. Every function
// is pure: rates come from the order snapshot, never from live configuration,
// so a fee can be re-derived at any time from the persisted order.
package fee

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Params are the inputs to Compute.
type Params struct {
	Amount     int64   // sats
	BotFeeRate float64 // fraction of Amount charged as the maximum fee
	SplitRate  float64 // fraction of the maximum fee kept by the bot when a community is involved
	// CommunityPercent is the community's share, in percent, of the part of
	// the maximum fee the bot does not keep. Only used when HasCommunity.
	CommunityPercent float64
	HasCommunity     bool
	Golden           bool
}

// MaxFee is round(amount * rate).
func MaxFee(amount int64, rate float64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
}

// Compute returns the fee the seller pays on top of the trade amount.
func Compute(p Params) int64 {
	maxFee := decimal.NewFromInt(MaxFee(p.Amount, p.BotFeeRate))
	if !p.HasCommunity {
		if p.Golden {
			return 0
		}
		return maxFee.IntPart()
	}

	botShare := maxFee.Mul(decimal.NewFromFloat(p.SplitRate))
	communityShare := maxFee.Sub(botShare).Round(0).
		Mul(decimal.NewFromFloat(p.CommunityPercent)).
		Div(hundred)
	if p.Golden {
		return communityShare.Round(0).IntPart()
	}
	return botShare.Add(communityShare).Round(0).IntPart()
}

// ForOrder computes the fee for an order from its rate snapshot.
func ForOrder(o domain.Order, community *domain.Community) int64 {
	p := Params{
		Amount:     o.Amount,
		BotFeeRate: o.BotFee,
		SplitRate:  o.CommunityFee,
		Golden:     o.IsGoldenHoneyBadger,
	}
	if community != nil {
		p.HasCommunity = true
		p.CommunityPercent = community.Fee
	}
	return Compute(p)
}

// Breakdown is how an order fee is divided.
type Breakdown struct {
	BotFee       int64
	CommunityFee int64
}

// Split divides o.Fee between the bot and the order's community. The parts
// always add up to o.Fee; the community receives the remainder after the
// bot's rounded share.
func Split(o domain.Order) Breakdown {
	if o.Fee <= 0 {
		return Breakdown{}
	}
	if o.CommunityID == "" {
		return Breakdown{BotFee: o.Fee}
	}
	if o.IsGoldenHoneyBadger {
		return Breakdown{CommunityFee: o.Fee}
	}
	maxFee := decimal.NewFromInt(MaxFee(o.Amount, o.BotFee))
	bot := maxFee.Mul(decimal.NewFromFloat(o.CommunityFee)).Round(0).IntPart()
	if bot > o.Fee {
		bot = o.Fee
	}
	return Breakdown{BotFee: bot, CommunityFee: o.Fee - bot}
}

// SatsForFiat converts a fiat amount to sats at rate (fiat per BTC), applying
// margin percent on top.
func SatsForFiat(fiatAmount int64, rate, margin float64) (int64, error) {
	if rate <= 0 {
		return 0, domain.ErrRateUnavailable
	}
	btc := decimal.NewFromInt(fiatAmount).Div(decimal.NewFromFloat(rate))
	sats := btc.Mul(decimal.NewFromInt(btcutil.SatoshiPerBitcoin))
	if margin != 0 {
		sats = sats.Add(sats.Mul(decimal.NewFromFloat(margin)).Div(hundred))
	}
	return sats.Round(0).IntPart(), nil
}

// Golden draws the promotional zero-bot-fee outcome: one in probability
// orders wins. A probability below 1 disables the promotion.
func Golden(probability int, intn func(int) int) bool {
	if probability < 1 || intn == nil {
		return false
	}
	return intn(probability) == 0
}

// Format renders sats for human readable descriptions.
func Format(sats int64) string {
	return btcutil.Amount(sats).Format(btcutil.AmountSatoshi)
}
