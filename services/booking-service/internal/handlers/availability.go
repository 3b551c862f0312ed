package handlers

import (
	"net/http"
	"strings"

	"github.com/harborops/slotkeeper/libs/httpx"
)

func (h *Handler) DayAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	row, err := h.grid.Day(r.Context(), strings.TrimSpace(q.Get("vessel_id")), date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, row)
}

func (h *Handler) GridAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	g, err := h.grid.Aggregate(r.Context(), strings.TrimSpace(q.Get("vessel_id")), from, to)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, g)
}
