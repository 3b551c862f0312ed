package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSender(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "tok")
	msg := Message{RecipientID: "alice", Title: "Booking confirmed", Body: "see you aboard", Type: "booking.status_changed", BookingID: "b1"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.RecipientID != "alice" || got.BookingID != "b1" {
		t.Fatalf("unexpected delivery %+v", got)
	}

	if err := NewWebhookSender(srv.URL, "wrong").Send(context.Background(), msg); err == nil {
		t.Fatalf("expected non-2xx to fail")
	}
	if err := NewWebhookSender("", "").Send(context.Background(), msg); err == nil {
		t.Fatalf("expected missing url to fail")
	}
}
