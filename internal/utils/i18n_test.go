package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("de", "error.remote_disabled"); got != translations["en"]["error.remote_disabled"] {
		t.Fatalf("missing de key should fall back to en, got %s", got)
	}
	if got := T("en", "no.such.key"); got != "no.such.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
}

func TestT_EveryLocaleCoversWarning(t *testing.T) {
	for _, loc := range Locales {
		if _, ok := translations[loc]["warning.sync_failed"]; !ok {
			t.Fatalf("locale %s lacks warning.sync_failed", loc)
		}
	}
}
