// Package notify decides who hears about a booking change and hands the messages to a
// delivery sink without holding up the caller.
package notify

import (
	"fmt"

	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
)

// Notification is what the Notification Delivery collaborator accepts. Either Roles or
// RecipientID is set.
type Notification struct {
	Roles       []string `json:"roles,omitempty"`
	RecipientID string   `json:"recipient_id,omitempty"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Type        string   `json:"type"`
	BookingID   string   `json:"booking_id"`
}

const (
	TypeBookingConfirmed = "booking.confirmed"
	TypeBookingRequested = "booking.requested"
	TypeBookingStatus    = "booking.status_changed"
)

type Router struct {
	PrivilegedRole string
	OnsiteRole     string
}

// Route applies the routing matrix:
//
//	privileged actor creates a confirmed booking  -> on-site role
//	other actor creates a pending booking         -> privileged and on-site roles
//	privileged actor changes the status of a booking
//	created by a non-privileged actor            -> the original creator
func (r Router) Route(t booking.Transition) []Notification {
	b := t.Booking
	when := fmt.Sprintf("%s %s", b.Date.Format(model.DateLayout), b.Interval())

	switch t.Kind {
	case booking.Created:
		if model.IsPrivileged(t.Actor) && b.Status == model.StatusConfirmed {
			return []Notification{{
				Roles:     []string{r.OnsiteRole},
				Title:     "New booking confirmed",
				Message:   fmt.Sprintf("Vessel %s is booked for %s.", b.VesselID, when),
				Type:      TypeBookingConfirmed,
				BookingID: b.ID,
			}}
		}
		if !model.IsPrivileged(t.Actor) && b.Status == model.StatusPending {
			return []Notification{{
				Roles:     []string{r.PrivilegedRole, r.OnsiteRole},
				Title:     "Booking awaiting confirmation",
				Message:   fmt.Sprintf("A booking for vessel %s on %s needs confirmation.", b.VesselID, when),
				Type:      TypeBookingRequested,
				BookingID: b.ID,
			}}
		}
	case booking.StatusChanged:
		if model.IsPrivileged(t.Actor) && !b.CreatedByPrivileged && b.OwnerID != "" {
			return []Notification{{
				RecipientID: b.OwnerID,
				Title:       "Booking " + string(b.Status),
				Message:     fmt.Sprintf("Your booking for vessel %s on %s is now %s.", b.VesselID, when, b.Status),
				Type:        TypeBookingStatus,
				BookingID:   b.ID,
			}}
		}
	}
	return nil
}
