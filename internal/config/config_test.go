package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadTolerancesFallBackOnGarbage(t *testing.T) {
	t.Setenv("VARIANCE_TOLERANCE_CENTS", "not-a-number")
	t.Setenv("RECEIPT_CONFIG_TTL_SECONDS", "-3")

	cfg := Load()
	if cfg.VarianceToleranceCents != 10000 {
		t.Fatalf("expected default tolerance 10000, got %d", cfg.VarianceToleranceCents)
	}
	if cfg.ReceiptConfigTTLSeconds != 600 {
		t.Fatalf("expected default receipt TTL 600, got %d", cfg.ReceiptConfigTTLSeconds)
	}
}
