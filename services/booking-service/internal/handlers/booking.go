package handlers

import (
	"net/http"
	"strings"

	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
)

type createBookingRequest struct {
	VesselID      string `json:"vessel_id"`
	CustomerID    string `json:"customer_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Passengers    int    `json:"passengers"`
	QuotedAmount  *int64 `json:"quoted_amount"`
	PendingAmount *int64 `json:"pending_amount"`
}

type rescheduleRequest struct {
	BookingID string `json:"booking_id"`
	VesselID  string `json:"vessel_id"`
	Date      string `json:"date"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type statusRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.VesselID = strings.TrimSpace(req.VesselID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.VesselID == "" {
		badRequest(w, "vessel_id is required")
		return
	}
	if req.CustomerID == "" {
		req.CustomerID = actor.ID
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	iv, err := parseInterval(req.Start, req.End)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	b, err := h.engine.Create(r.Context(), actor, booking.CreateRequest{
		VesselID:       req.VesselID,
		CustomerID:     req.CustomerID,
		Date:           date,
		Interval:       iv,
		Passengers:     req.Passengers,
		QuotedAmount:   req.QuotedAmount,
		PendingAmount:  req.PendingAmount,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.bookingBody(b))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if id == "" {
		badRequest(w, "booking_id is required")
		return
	}
	b, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !model.CanActFor(actor, b.OwnerID) && actor.ID != b.CustomerID {
		h.writeErr(w, r, apperr.New(apperr.NotFound, "booking %s not found", id))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.bookingBody(b))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		badRequest(w, "booking_id is required")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	iv, err := parseInterval(req.Start, req.End)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	b, err := h.engine.Reschedule(r.Context(), actor, booking.RescheduleRequest{
		BookingID: strings.TrimSpace(req.BookingID),
		VesselID:  strings.TrimSpace(req.VesselID),
		Date:      date,
		Interval:  iv,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.bookingBody(b))
}

func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	to, valid := model.ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if strings.TrimSpace(req.BookingID) == "" || !valid {
		badRequest(w, "booking_id and status (pending|confirmed|cancelled) are required")
		return
	}

	b, err := h.engine.UpdateStatus(r.Context(), actor, strings.TrimSpace(req.BookingID), to)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.bookingBody(b))
}
