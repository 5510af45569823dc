package sealing

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	argon2Version = 19 // argon2.Version is 0x13 (19)
	sealScheme    = "xc20p"
)

// Sealer encrypts small documents under a passphrase-derived key.
type Sealer struct {
	cfg        Config
	passphrase []byte
}

// New validates the passphrase against policy and returns a Sealer.
func New(cfg Config, passphrase string) (*Sealer, error) {
	if utf8.RuneCountInString(passphrase) < cfg.MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}
	return &Sealer{cfg: cfg, passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext and returns a self-describing encoded string.
// Format:
// $xc20p$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<nonce_b64>$<ciphertext_b64>
// The header up to and including the nonce is authenticated as associated data.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if s == nil {
		return "", ErrNilSealer
	}

	salt := make([]byte, s.cfg.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(s.cfg.Params, salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	b64 := base64.RawStdEncoding
	header := fmt.Sprintf(
		"$%s$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		sealScheme,
		argon2Version,
		s.cfg.Params.MemoryKiB,
		s.cfg.Params.Iterations,
		s.cfg.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(nonce),
	)

	ct := aead.Seal(nil, nonce, plaintext, []byte(header))
	return header + "$" + b64.EncodeToString(ct), nil
}

// Open reverses Seal. Returns ErrInvalidSealed for malformed input and
// ErrOpenFailed when authentication fails (wrong passphrase or tampering).
func (s *Sealer) Open(encoded string) ([]byte, error) {
	if s == nil {
		return nil, ErrNilSealer
	}

	params, salt, nonce, ct, header, err := decode(encoded)
	if err != nil {
		return nil, err
	}
	if !withinReasonableBounds(params, s.cfg.Params) {
		return nil, ErrInvalidSealed
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(params, salt))
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidSealed
	}

	pt, err := aead.Open(nil, nonce, ct, []byte(header))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

func (s *Sealer) deriveKey(p Argon2idParams, salt []byte) []byte {
	return argon2.IDKey(
		s.passphrase,
		salt,
		p.Iterations,
		p.MemoryKiB,
		p.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// withinReasonableBounds rejects attacker-controlled headers that would make key
// derivation pathologically expensive.
func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, []byte, string, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 8 || parts[0] != "" || parts[1] != sealScheme || parts[2] != "argon2id" {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}
	if parts[3] != "v=19" {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[4], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}
	nonce, err := b64.DecodeString(parts[6])
	if err != nil {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}
	ct, err := b64.DecodeString(parts[7])
	if err != nil {
		return Argon2idParams{}, nil, nil, nil, "", ErrInvalidSealed
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by withinReasonableBounds.
	}
	header := strings.Join(parts[:7], "$")
	return params, salt, nonce, ct, header, nil
}
