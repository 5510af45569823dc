package app

import (
	"errors"

	"labdash/cmd/security/token"
)

// ValidateSecurityConfig enforces the client's credential-handling policy at
// startup.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireFingerprintKey {
		if _, err := token.FingerprintKeyFromEnv(32); err != nil {
			switch {
			case errors.Is(err, token.ErrFingerprintKeyMissing):
				return errors.New("security policy: LABDASH_REQUIRE_FINGERPRINT_KEY=true but LABDASH_TOKEN_FINGERPRINT_KEY is missing")
			case errors.Is(err, token.ErrFingerprintKeyTooShort):
				return errors.New("security policy: LABDASH_REQUIRE_FINGERPRINT_KEY=true but LABDASH_TOKEN_FINGERPRINT_KEY is too short (min 32 bytes)")
			default:
				return err
			}
		}
	}

	if cfg.RequireSealedCredential && cfg.CredentialBackend == BackendFile && cfg.SealPassphrase == "" {
		return errors.New("security policy: LABDASH_REQUIRE_SEALED_CREDENTIALS=true but LABDASH_SEAL_PASSPHRASE is missing")
	}

	return nil
}
