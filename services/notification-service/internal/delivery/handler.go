// Package delivery turns booking notification events into push messages and records
// the outcome of every attempt.
package delivery

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/harborops/slotkeeper/libs/kafkax"
	"github.com/harborops/slotkeeper/services/notification-service/internal/push"
	"github.com/harborops/slotkeeper/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// Event is the payload the booking service publishes.
type Event struct {
	Roles       []string `json:"roles"`
	RecipientID string   `json:"recipient_id"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Type        string   `json:"type"`
	BookingID   string   `json:"booking_id"`
}

type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Handler struct {
	sender   push.Sender
	recorder Recorder
	logger   *slog.Logger
}

func NewHandler(sender push.Sender, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{sender: sender, recorder: recorder, logger: logger}
}

// Handle delivers one event. Malformed events are logged and dropped; a failed push is
// recorded as failed and not retried. Only a failure to record is returned.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logger.Error("invalid notification payload", "err", err, "event_id", meta.EventID)
		return nil
	}
	if ev.BookingID == "" || ev.Type == "" || (len(ev.Roles) == 0 && ev.RecipientID == "") {
		h.logger.Error("missing notification fields", "event_id", meta.EventID)
		return nil
	}

	n := storage.Notification{
		EventID:     meta.EventID,
		BookingID:   ev.BookingID,
		Type:        ev.Type,
		Roles:       ev.Roles,
		RecipientID: ev.RecipientID,
		Title:       ev.Title,
		Message:     ev.Message,
		Provider:    h.sender.ProviderID(),
		Status:      "sent",
	}
	err := h.sender.Send(ctx, push.Message{
		Roles:       ev.Roles,
		RecipientID: ev.RecipientID,
		Title:       ev.Title,
		Body:        ev.Message,
		Type:        ev.Type,
		BookingID:   ev.BookingID,
	})
	if err != nil {
		n.Status = "failed"
		n.FailureReason = err.Error()
		h.logger.Error("push delivery failed", "err", err, "booking_id", ev.BookingID, "type", ev.Type)
	}

	if err := h.recorder.Insert(ctx, n); err != nil {
		h.logger.Error("failed to persist notification", "err", err)
		return err
	}
	h.logger.Info("notification processed", "booking_id", ev.BookingID, "type", ev.Type, "status", n.Status)
	return nil
}
