package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/harborops/slotkeeper/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const EventTypeNotification = "booking.notification.requested.v1"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes notifications for the delivery service, keyed by booking id.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	meta := kafkax.EventMeta{EventID: uuid.NewString(), EventType: EventTypeNotification}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(n.BookingID),
		Value:   payload,
		Headers: kafkax.InjectTraceHeaders(ctx, meta.Headers()),
	})
}
