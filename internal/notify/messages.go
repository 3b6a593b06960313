package notify

import (
	"fmt"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/fee"
)

type message struct {
	title string
	text  string
	users []string
	admin bool
}

func parties(o *domain.Order) []string {
	if o == nil {
		return nil
	}
	var out []string
	for _, id := range []string{o.SellerID, o.BuyerID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func only(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func summary(o *domain.Order) string {
	if o == nil {
		return ""
	}
	return fmt.Sprintf("Order %s: %s", o.ID, o.Description)
}

// render maps an event to its message. ok is false for events nobody is
// told about.
func render(ev domain.Event) (message, bool) {
	o := ev.Order
	switch ev.Type {
	case domain.TopicOrderTaken:
		if o == nil {
			return message{}, false
		}
		return message{title: "Order taken", text: summary(o), users: only(o.CreatorID)}, true
	case domain.TopicOrderFunded:
		if o == nil {
			return message{}, false
		}
		text := summary(o) + "\nThe seller locked the sats in escrow."
		if o.BuyerInvoice == "" {
			text += " Send a payout invoice for " + fee.Format(o.Amount) + " to continue."
		}
		return message{title: "Escrow funded", text: text, users: only(o.BuyerID)}, true
	case domain.TopicOrderActive:
		return message{title: "Trade started", text: summary(o) + "\nBuyer, send the fiat and mark it as sent.", users: parties(o)}, true
	case domain.TopicOrderFiatSent:
		return message{title: "Fiat sent", text: summary(o) + "\nCheck your account and release once the fiat arrived.", users: only(ev.UserID)}, true
	case domain.TopicOrderReleased:
		return message{title: "Sats released", text: summary(o) + "\nYour payout is on its way.", users: only(ev.UserID)}, true
	case domain.TopicOrderSuccess:
		return message{title: "Trade completed", text: summary(o), users: parties(o)}, true
	case domain.TopicOrderCancelRequested:
		return message{title: "Cancel requested", text: summary(o) + "\nYour counterparty asked to cancel. Cancel too to agree.", users: only(ev.UserID)}, true
	case domain.TopicOrderCanceled:
		return message{title: "Order canceled", text: summary(o), users: parties(o)}, true
	case domain.TopicOrderDeleted:
		return message{title: "Order expired unpublished", text: summary(o), users: only(ev.UserID)}, true
	case domain.TopicOrderExpired:
		return message{title: "Order expired", text: summary(o) + "\nAn admin will settle this trade.", users: parties(o), admin: true}, true
	case domain.TopicOrderDispute:
		return message{title: "Dispute opened", text: summary(o) + "\nA solver will contact both parties.", users: parties(o)}, true
	case domain.TopicDisputeAdminRouted:
		return message{title: "Dispute needs an admin", text: summary(o) + "\nThe community has no solver.", admin: true}, true
	case domain.TopicDisputeTaken:
		return message{title: "Solver assigned", text: summary(o), users: parties(o)}, true
	case domain.TopicDisputeResolved:
		return message{title: "Dispute resolved", text: fmt.Sprintf("%s\nOutcome: %v", summary(o), ev.Data["outcome"]), users: parties(o)}, true
	case domain.TopicPayoutFailed:
		return message{title: "Payout delayed", text: summary(o) + "\nThe payment failed and will be retried.", users: only(ev.UserID)}, true
	case domain.TopicPayoutInvoiceExpired:
		return message{title: "Payout invoice expired", text: summary(o) + "\nSend a new invoice to receive your sats.", users: only(ev.UserID)}, true
	case domain.TopicPayoutExhausted:
		return message{title: "Payout failed", text: summary(o) + "\nEvery attempt failed. Send a new invoice.", users: only(ev.UserID), admin: true}, true
	case domain.TopicCommunityPaid:
		amount, _ := ev.Data["amount"].(int64)
		return message{title: "Community earnings paid", text: fmt.Sprintf("Community %v received %s.", ev.Data["community_id"], fee.Format(amount)), users: only(ev.UserID)}, true
	case domain.TopicCommunityPayoutFail:
		return message{title: "Community withdrawal failed", text: fmt.Sprintf("Community %v: %v.", ev.Data["community_id"], ev.Data["reason"]), users: only(ev.UserID)}, true
	case domain.TopicAdminWarning:
		text := fmt.Sprintf("%v", ev.Data["reason"])
		if o != nil {
			text = summary(o) + "\n" + text
		}
		return message{title: "Admin warning", text: text, admin: true}, true
	case domain.TopicRoutingFeeAlert:
		return message{title: "Routing fees high", text: fmt.Sprintf("Routing fees are %.1f%% of collected fees (threshold %.1f%%).",
			toFloat(ev.Data["ratio"])*100, toFloat(ev.Data["threshold"])*100), admin: true}, true
	default:
		return message{}, false
	}
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
