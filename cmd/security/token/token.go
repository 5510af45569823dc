package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// FingerprintKeyEnv is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	FingerprintKeyEnv = "LABDASH_TOKEN_FINGERPRINT_KEY"

	fingerprintHexLen = 16
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// FingerprintKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
func FingerprintKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(FingerprintKeyEnv))
	if raw == "" {
		return nil, ErrFingerprintKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrFingerprintKeyTooShort
	}
	return b, nil
}

// Fingerprint returns a short, stable, non-reversible identifier for a credential
// that is safe to put in logs. Empty input yields "".
//
// If LABDASH_TOKEN_FINGERPRINT_KEY is set, HMAC-SHA256 is used so fingerprints
// cannot be matched against a leaked token offline.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	key := strings.TrimSpace(os.Getenv(FingerprintKeyEnv))
	var sum string
	if key == "" {
		sum = HashSHA256Hex(s)
	} else {
		sum = HashHMACSHA256Hex(s, []byte(key))
	}
	return sum[:fingerprintHexLen]
}
