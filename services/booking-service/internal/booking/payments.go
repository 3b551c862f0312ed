package booking

import (
	"context"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

// PaymentsActor is the privileged identity payment callbacks act as.
var PaymentsActor = model.Actor{ID: "payments", Name: "Payments", Privileged: true}

type PaymentOutcome int

const (
	PaymentSucceeded PaymentOutcome = iota
	PaymentFailed
)

type PaymentEvent struct {
	EventID   string
	BookingID string
	Outcome   PaymentOutcome
	// AmountPaid is in minor units and reduces the booking's pending amount.
	AmountPaid int64
}

// ApplyPayment changes a booking's status in response to a payment provider event.
// A successful payment confirms the booking and lowers its pending amount; a failed
// one cancels a still pending booking. Replayed event ids change nothing.
func (e *Engine) ApplyPayment(ctx context.Context, ev PaymentEvent) (model.Booking, error) {
	if ev.EventID == "" || ev.BookingID == "" {
		return model.Booking{}, apperr.New(apperr.InvalidRange, "payment event needs an event id and a booking id")
	}
	return e.mutateStatus(ctx, PaymentsActor, ev.BookingID, "apply_payment", func(tx storage.Tx, b *model.Booking) (bool, error) {
		fresh, err := tx.MarkPaymentEvent(ctx, ev.EventID)
		if err != nil || !fresh {
			return false, err
		}
		switch ev.Outcome {
		case PaymentSucceeded:
			if b.Status == model.StatusCancelled {
				return false, apperr.New(apperr.InvalidTransition, "payment received for cancelled booking %s", b.ID)
			}
			b.PendingAmount -= ev.AmountPaid
			if b.PendingAmount < 0 {
				b.PendingAmount = 0
			}
			changed := b.Status != model.StatusConfirmed
			if changed {
				return true, e.setStatus(ctx, tx, b, model.StatusConfirmed)
			}
			b.UpdatedAt = e.now()
			return false, tx.UpdateBooking(ctx, *b)
		case PaymentFailed:
			if b.Status != model.StatusPending {
				return false, nil
			}
			return true, e.setStatus(ctx, tx, b, model.StatusCancelled)
		}
		return false, apperr.New(apperr.InvalidRange, "unknown payment outcome %d", ev.Outcome)
	})
}
