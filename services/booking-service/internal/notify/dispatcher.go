package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
)

// Sink delivers one notification.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher routes committed transitions and delivers the result in the background.
// Delivery failures are logged and dropped.
type Dispatcher struct {
	router  Router
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(router Router, sink Sink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{router: router, sink: sink, logger: logger, timeout: 5 * time.Second}
}

func (d *Dispatcher) Notify(ctx context.Context, t booking.Transition) {
	for _, n := range d.router.Route(t) {
		d.wg.Add(1)
		go func(n Notification) {
			defer d.wg.Done()
			deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			defer cancel()
			if err := d.sink.Deliver(deliverCtx, n); err != nil {
				d.logger.Warn("notification delivery failed", "booking_id", n.BookingID, "type", n.Type, "err", err)
				return
			}
			d.logger.Debug("notification delivered", "booking_id", n.BookingID, "type", n.Type)
		}(n)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	s.Logger.Info("notification", "type", n.Type, "booking_id", n.BookingID, "roles", n.Roles, "recipient_id", n.RecipientID, "title", n.Title)
	return nil
}
