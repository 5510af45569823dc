package app

import (
	"strings"
	"testing"

	"labdash/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Run("disabled policy", func(t *testing.T) {
		t.Setenv(token.FingerprintKeyEnv, "")
		if err := ValidateSecurityConfig(DefaultConfig()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("fingerprint key missing", func(t *testing.T) {
		t.Setenv(token.FingerprintKeyEnv, "")
		cfg := DefaultConfig()
		cfg.RequireFingerprintKey = true
		err := ValidateSecurityConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), "missing") {
			t.Fatalf("expected missing-key error, got %v", err)
		}
	})

	t.Run("fingerprint key too short", func(t *testing.T) {
		t.Setenv(token.FingerprintKeyEnv, "short")
		cfg := DefaultConfig()
		cfg.RequireFingerprintKey = true
		err := ValidateSecurityConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected too-short error, got %v", err)
		}
	})

	t.Run("fingerprint key ok", func(t *testing.T) {
		t.Setenv(token.FingerprintKeyEnv, strings.Repeat("k", 32))
		cfg := DefaultConfig()
		cfg.RequireFingerprintKey = true
		if err := ValidateSecurityConfig(cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("file backend must be sealed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CredentialBackend = BackendFile
		cfg.CredentialDir = t.TempDir()
		cfg.RequireSealedCredential = true
		if err := ValidateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected error for unsealed file backend")
		}

		cfg.SealPassphrase = "correct horse battery staple"
		if err := ValidateSecurityConfig(cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
