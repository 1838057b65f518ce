package utils

import (
	"testing"
	"time"
)

func TestSafeEnv(t *testing.T) {
	const key = "_MODERATOR_TEST_SAFEENV"
	t.Setenv(key, "")
	if got := SafeEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, " value ")
	if got := SafeEnv(key, "fallback"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestTypedEnv(t *testing.T) {
	t.Setenv("_MODERATOR_TEST_INT", "42")
	t.Setenv("_MODERATOR_TEST_BAD_INT", "forty")
	t.Setenv("_MODERATOR_TEST_BOOL", "true")
	t.Setenv("_MODERATOR_TEST_DUR", "90s")

	if got := EnvInt("_MODERATOR_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvInt("_MODERATOR_TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("malformed int should fall back, got %d", got)
	}
	if !EnvBool("_MODERATOR_TEST_BOOL", false) {
		t.Fatal("EnvBool should be true")
	}
	if got := EnvDuration("_MODERATOR_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration = %v", got)
	}
	if got := EnvDuration("_MODERATOR_TEST_UNSET", time.Second); got != time.Second {
		t.Fatalf("unset duration should fall back, got %v", got)
	}
}
