package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook turns Stripe payment events into booking status changes.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.stripeSecret) == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "Unavailable", "stripe webhook not configured")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		badRequest(w, "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeSecret, h.stripeTolerance)
	if err != nil {
		badRequest(w, "invalid signature")
		return
	}

	evtType := string(evt.Type)
	log := h.logger.With("provider_event_id", evt.ID, "event_type", evtType)
	log.Info("payment event received")

	var (
		bookingID string
		ev        = booking.PaymentEvent{EventID: evt.ID}
	)
	switch evtType {
	case "checkout.session.completed", "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			log.Error("invalid checkout session payload", "err", err)
			break
		}
		bookingID = strings.TrimSpace(session.Metadata["booking_id"])
		ev.Outcome = booking.PaymentFailed
		if evtType == "checkout.session.completed" {
			ev.Outcome = booking.PaymentSucceeded
			ev.AmountPaid = session.AmountTotal
		}
	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			log.Error("invalid payment intent payload", "err", err)
			break
		}
		bookingID = strings.TrimSpace(intent.Metadata["booking_id"])
		ev.Outcome = booking.PaymentFailed
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if bookingID == "" {
		log.Warn("payment event without booking_id metadata")
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	ev.BookingID = bookingID

	b, err := h.engine.ApplyPayment(r.Context(), ev)
	if err == nil {
		log.Info("payment event applied", "booking_id", b.ID, "status", b.Status)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "booking_status": string(b.Status)})
		return
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound, apperr.InvalidTransition, apperr.InvalidRange:
		// Retrying will not change the outcome.
		log.Warn("payment event not applied", "booking_id", bookingID, "err", err)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		h.writeErr(w, r, err)
	}
}
