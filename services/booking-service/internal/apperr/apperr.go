// Package apperr is the error taxonomy shared by the scheduling core and its HTTP surface.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidConfiguration Kind = "InvalidConfiguration"
	InvalidRange         Kind = "InvalidRange"
	ImmutableSlot        Kind = "ImmutableSlot"
	SlotConflict         Kind = "SlotConflict"
	SlotUnavailable      Kind = "SlotUnavailable"
	ConcurrencyConflict  Kind = "ConcurrencyConflict"
	NotFound             Kind = "NotFound"
	Forbidden            Kind = "Forbidden"
	InvalidTransition    Kind = "InvalidTransition"
)

// Conflict names the interval that caused a SlotConflict or SlotUnavailable failure.
type Conflict struct {
	Date      string `json:"date,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	State     string `json:"state,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}

type Error struct {
	Kind     Kind
	Message  string
	Conflict *Conflict
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func WithConflict(kind Kind, c Conflict, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Conflict = &c
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
