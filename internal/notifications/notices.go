package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/kafka"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/registry"
)

// Notice is one recipient's view of a domain event.
type Notice struct {
	Notification models.Notification
	Email        kafka.EmailRequest
}

type noticeText struct {
	title   string
	message string
}

// BuildNotices maps a decoded escrow event to the notices it produces. Events
// nobody needs to hear about yield none.
func BuildNotices(eventID uuid.UUID, decoded *registry.Decoded, now time.Time) ([]Notice, error) {
	switch p := decoded.Payload.(type) {
	case *payloads.DepositEvent:
		text, ok := depositText(decoded.EventType, p)
		if !ok {
			return nil, nil
		}
		return fanOut(eventID, decoded.EventType, enums.NotificationTypeDepositUpdate, p.DepositID, text, now,
			map[string]string{"reference": p.Reference, "amount": p.Amount.String(), "token": p.Token},
			p.Renter, p.Landlord), nil
	case *payloads.DisputeEvent:
		text, ok := disputeText(decoded.EventType, p)
		if !ok {
			return nil, nil
		}
		return fanOut(eventID, decoded.EventType, enums.NotificationTypeDisputeUpdate, p.DepositID, text, now,
			map[string]string{"disputeId": p.DisputeID.String(), "status": string(p.Status)},
			p.Renter, p.Landlord), nil
	case *payloads.PayoutEvent:
		if decoded.EventType != enums.EventPayoutSettled {
			return nil, nil
		}
		text := noticeText{
			title:   "Payout sent",
			message: fmt.Sprintf("%s %s has been sent to your wallet.", p.Amount.String(), p.Token),
		}
		vars := map[string]string{"amount": p.Amount.String(), "token": p.Token}
		if p.TxHash != nil {
			vars["txHash"] = *p.TxHash
		}
		return fanOut(eventID, decoded.EventType, enums.NotificationTypePayoutUpdate, p.DepositID, text, now, vars, p.Recipient), nil
	default:
		return nil, fmt.Errorf("unexpected payload %T for %s", decoded.Payload, decoded.EventType)
	}
}

func depositText(eventType enums.OutboxEventType, p *payloads.DepositEvent) (noticeText, bool) {
	amount := p.Amount.String() + " " + p.Token
	switch eventType {
	case enums.EventDepositCreated:
		return noticeText{"Deposit opened", fmt.Sprintf("Deposit %s for %s is waiting for funding.", p.Reference, amount)}, true
	case enums.EventDepositFunded:
		return noticeText{"Deposit funded", fmt.Sprintf("Deposit %s is now held in escrow (%s).", p.Reference, amount)}, true
	case enums.EventDepositReleased:
		return noticeText{"Deposit released", fmt.Sprintf("Deposit %s was released.", p.Reference)}, true
	case enums.EventDepositRefunded:
		return noticeText{"Deposit refunded", fmt.Sprintf("Deposit %s was refunded to the renter.", p.Reference)}, true
	}
	return noticeText{}, false
}

func disputeText(eventType enums.OutboxEventType, p *payloads.DisputeEvent) (noticeText, bool) {
	switch eventType {
	case enums.EventDisputeRaised:
		return noticeText{"Dispute raised", fmt.Sprintf("The %s disputed the deposit. Funds are frozen until an arbiter resolves it.", p.RaisedByRole)}, true
	case enums.EventDisputeUnderReview:
		return noticeText{"Dispute under review", "An arbiter is reviewing the dispute."}, true
	case enums.EventDisputeResolved:
		outcome := "resolved"
		if p.Resolution != nil {
			outcome = string(*p.Resolution)
		}
		return noticeText{"Dispute resolved", fmt.Sprintf("The arbiter resolved the dispute: %s.", outcome)}, true
	}
	return noticeText{}, false
}

func fanOut(eventID uuid.UUID, eventType enums.OutboxEventType, kind enums.NotificationType, depositID uuid.UUID, text noticeText, now time.Time, vars map[string]string, wallets ...string) []Notice {
	out := make([]Notice, 0, len(wallets))
	seen := map[string]struct{}{}
	for _, wallet := range wallets {
		recipient := normalizeWallet(wallet)
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		out = append(out, Notice{
			Notification: models.Notification{
				ID:        uuid.New(),
				EventID:   eventID,
				Recipient: recipient,
				DepositID: depositID,
				Type:      kind,
				Title:     text.title,
				Message:   text.message,
				CreatedAt: now,
			},
			Email: kafka.EmailRequest{
				RequestID:  eventID.String() + ":" + recipient,
				EventID:    eventID.String(),
				Wallet:     recipient,
				Template:   string(eventType),
				DepositID:  depositID.String(),
				Subject:    text.title,
				Variables:  vars,
				OccurredAt: now,
			},
		})
	}
	return out
}

func normalizeWallet(wallet string) string {
	if wallet == "" {
		return ""
	}
	if normalized, err := chain.NormalizeAddress(wallet); err == nil {
		return normalized
	}
	return wallet
}
