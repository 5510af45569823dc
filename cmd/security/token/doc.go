// Package token provides credential fingerprinting for logs.
//
// Access and refresh tokens are never written to logs. Components that need to
// correlate log lines with a credential log Fingerprint(token) instead.
//
// Environment:
//   - LABDASH_TOKEN_FINGERPRINT_KEY: when set, fingerprints are HMAC-SHA256 based.
package token
