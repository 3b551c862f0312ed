package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := WithConflict(SlotUnavailable, Conflict{Start: "10:00", End: "12:00", State: "locked"}, "locked by another user")
	err := fmt.Errorf("create booking: %w", base)

	if KindOf(err) != SlotUnavailable {
		t.Fatalf("expected SlotUnavailable, got %q", KindOf(err))
	}
	e, ok := As(err)
	if !ok || e.Conflict == nil || e.Conflict.Start != "10:00" {
		t.Fatalf("expected conflict to survive wrapping, got %+v", e)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for plain errors")
	}
	if Is(nil, NotFound) {
		t.Fatalf("nil must not match any kind")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("serialization failure")
	err := Wrap(ConcurrencyConflict, cause, "lost race")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}
