package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harborops/slotkeeper/libs/auth"
	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/grid"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

// StripeWebhookPath is served without a bearer token; the Stripe signature is the auth.
const StripeWebhookPath = "/api/v1/payments/webhooks/stripe"

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	Now                    func() time.Time
}

type Handler struct {
	engine          *booking.Engine
	grid            *grid.Aggregator
	roles           auth.RolePolicy
	logger          *slog.Logger
	stripeSecret    string
	stripeTolerance time.Duration
	now             func() time.Time
}

func New(engine *booking.Engine, agg *grid.Aggregator, roles auth.RolePolicy, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		engine:          engine,
		grid:            agg,
		roles:           roles,
		logger:          logger,
		stripeSecret:    cfg.StripeWebhookSecret,
		stripeTolerance: cfg.StripeWebhookTolerance,
		now:             cfg.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/bookings", h.CreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", h.GetBooking)
	mux.HandleFunc("POST /api/v1/bookings/reschedule", h.RescheduleBooking)
	mux.HandleFunc("POST /api/v1/bookings/status", h.UpdateBookingStatus)
	mux.HandleFunc("POST /api/v1/slots/lock", h.LockSlot)
	mux.HandleFunc("POST /api/v1/slots/release", h.ReleaseSlot)
	mux.HandleFunc("POST /api/v1/slots/edit", h.EditSlot)
	mux.HandleFunc("GET /api/v1/slots/partition", h.Partition)
	mux.HandleFunc("GET /api/v1/availability/day", h.DayAvailability)
	mux.HandleFunc("GET /api/v1/availability/grid", h.GridAvailability)
	mux.HandleFunc("POST "+StripeWebhookPath, h.StripeWebhook)
}

// actor resolves the authenticated caller. It writes 401 and returns false when there is none.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthenticated", "missing principal")
		return model.Actor{}, false
	}
	return model.Actor{
		ID:         p.Subject,
		TenantID:   p.TenantID,
		Name:       p.Name,
		Privileged: h.roles.Privileged(p.Role),
	}, true
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidConfiguration, apperr.InvalidRange:
		return http.StatusBadRequest
	case apperr.SlotConflict, apperr.SlotUnavailable, apperr.ConcurrencyConflict:
		return http.StatusConflict
	case apperr.ImmutableSlot:
		return http.StatusLocked
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.InvalidTransition:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}
	status := statusOf(ae.Kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "kind", ae.Kind, "err", err)
		httpx.WriteError(w, status, "Internal", "internal error")
		return
	}
	body := httpx.ErrorBody{Error: string(ae.Kind), Message: ae.Message}
	if ae.Conflict != nil {
		body.Conflict = ae.Conflict
	}
	httpx.WriteJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusBadRequest, string(apperr.InvalidRange), msg)
}

func parseDate(raw string) (time.Time, error) {
	d, err := model.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.InvalidRange, err, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func parseInterval(start, end string) (slots.Interval, error) {
	s, err := slots.ParseTimeOfDay(strings.TrimSpace(start))
	if err != nil {
		return slots.Interval{}, apperr.Wrap(apperr.InvalidRange, err, "start must be HH:MM")
	}
	e, err := slots.ParseTimeOfDay(strings.TrimSpace(end))
	if err != nil {
		return slots.Interval{}, apperr.Wrap(apperr.InvalidRange, err, "end must be HH:MM")
	}
	return slots.Interval{Start: s, End: e}, nil
}

type bookingResponse struct {
	ID            string  `json:"id"`
	VesselID      string  `json:"vessel_id"`
	CustomerID    string  `json:"customer_id"`
	Date          string  `json:"date"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	StartsAt      string  `json:"starts_at"`
	EndsAt        string  `json:"ends_at"`
	QuotedAmount  int64   `json:"quoted_amount"`
	PendingAmount int64   `json:"pending_amount"`
	Passengers    int     `json:"passengers"`
	Status        string  `json:"status"`
	TripStatus    string  `json:"trip_status"`
	OwnerID       string  `json:"owner_id"`
	CreatedAt     string  `json:"created_at"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

func (h *Handler) bookingBody(b model.Booking) bookingResponse {
	resp := bookingResponse{
		ID:            b.ID,
		VesselID:      b.VesselID,
		CustomerID:    b.CustomerID,
		Date:          b.Date.Format(model.DateLayout),
		Start:         b.Start.String(),
		End:           b.End.String(),
		StartsAt:      b.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:        b.EndsAt.UTC().Format(time.RFC3339),
		QuotedAmount:  b.QuotedAmount,
		PendingAmount: b.PendingAmount,
		Passengers:    b.Passengers,
		Status:        string(b.Status),
		TripStatus:    string(b.TripStatus(h.now())),
		OwnerID:       b.OwnerID,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.CancelledAt != nil {
		s := b.CancelledAt.UTC().Format(time.RFC3339)
		resp.CancelledAt = &s
	}
	return resp
}
