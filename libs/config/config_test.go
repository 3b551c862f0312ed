package config

import (
	"testing"
	"time"
)

func TestDuration_AcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("JANITOR_INTERVAL", "90")
	if got := Duration("JANITOR_INTERVAL", time.Hour); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("JANITOR_INTERVAL", "24h")
	if got := Duration("JANITOR_INTERVAL", time.Hour); got != 24*time.Hour {
		t.Fatalf("expected 24h, got %s", got)
	}
	t.Setenv("JANITOR_INTERVAL", "soon")
	if got := Duration("JANITOR_INTERVAL", time.Hour); got != time.Hour {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestIntBoolList(t *testing.T) {
	t.Setenv("GRID_MAX_DAYS", "-3")
	if got := Int("GRID_MAX_DAYS", 62, 1); got != 62 {
		t.Fatalf("expected fallback 62, got %d", got)
	}
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "off")
	if Bool("RATE_LIMIT_FAIL_OPEN", true) {
		t.Fatal("expected false")
	}
	t.Setenv("PRIVILEGED_ROLES", " admin, ,owner ")
	roles := List("PRIVILEGED_ROLES", "")
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "owner" {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestPort_RejectsOutOfRange(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8083"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}
