package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
)

type slotRequest struct {
	VesselID string `json:"vessel_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type editRequest struct {
	VesselID string `json:"vessel_id"`
	Date     string `json:"date"`
	Index    int    `json:"index"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type recordResponse struct {
	ID        string `json:"id"`
	VesselID  string `json:"vessel_id"`
	Date      string `json:"date"`
	Start     string `json:"start"`
	End       string `json:"end"`
	State     string `json:"state"`
	OwnerID   string `json:"owner_id"`
	BookingID string `json:"booking_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type slotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
	State string `json:"state,omitempty"`
}

func (s slotRequest) parse() (booking.SlotRequest, error) {
	date, err := parseDate(s.Date)
	if err != nil {
		return booking.SlotRequest{}, err
	}
	iv, err := parseInterval(s.Start, s.End)
	if err != nil {
		return booking.SlotRequest{}, err
	}
	return booking.SlotRequest{VesselID: strings.TrimSpace(s.VesselID), Date: date, Interval: iv}, nil
}

func recordBody(rec model.AvailabilityRecord) recordResponse {
	resp := recordResponse{
		ID:        rec.ID,
		VesselID:  rec.VesselID,
		Date:      rec.Date.Format(model.DateLayout),
		Start:     rec.Start.String(),
		End:       rec.End.String(),
		State:     string(rec.State),
		OwnerID:   rec.OwnerID,
		BookingID: rec.BookingID,
	}
	if !rec.ExpiresAt.IsZero() {
		resp.ExpiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) LockSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body slotRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req, err := body.parse()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	rec, err := h.engine.Lock(r.Context(), actor, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recordBody(rec))
}

func (h *Handler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body slotRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req, err := body.parse()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	n, err := h.engine.Release(r.Context(), actor, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"released": n})
}

func (h *Handler) EditSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body editRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	iv, err := parseInterval(body.Start, body.End)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	entries, err := h.engine.EditSlot(r.Context(), actor, booking.EditRequest{
		VesselID: strings.TrimSpace(body.VesselID),
		Date:     date,
		Index:    body.Index,
		Interval: iv,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]slotResponse, len(entries))
	for i, e := range entries {
		out[i] = slotResponse{Start: e.Start.String(), End: e.End.String(), State: string(e.State)}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}

// Partition returns a date's slot layout without occupancy.
func (h *Handler) Partition(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	shape, err := h.engine.Shape(r.Context(), strings.TrimSpace(q.Get("vessel_id")), date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]slotResponse, len(shape))
	for i, s := range shape {
		out[i] = slotResponse{Start: s.Start.String(), End: s.End.String()}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}

