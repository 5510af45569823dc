// Package sealing encrypts small documents (persisted credential pairs) at rest.
//
// Keys are derived per document with Argon2id from an operator passphrase and a
// random salt; documents are sealed with XChaCha20-Poly1305. The encoded form is
// self-describing so cost parameters can change without breaking old files.
//
// Security notes:
//   - Encoded documents are treated as untrusted input during Open.
//   - Open refuses headers whose cost parameters exceed reasonable bounds.
package sealing
