package sealing

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls the cost of deriving a sealing key from a passphrase.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams

	// MinPassphraseLength is counted in runes.
	MinPassphraseLength int
}

// DefaultConfig returns a baseline suitable for an interactive CLI that unseals
// credentials once per start.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
		},
		MinPassphraseLength: 12,
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - LABDASH_SEAL_MIN_PASSPHRASE_LEN
//   - LABDASH_ARGON2_MEMORY_KIB
//   - LABDASH_ARGON2_ITERATIONS
//   - LABDASH_ARGON2_PARALLELISM
//   - LABDASH_ARGON2_SALT_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("LABDASH_SEAL_MIN_PASSPHRASE_LEN"); ok {
		u, err := atou32(v, 8, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("LABDASH_SEAL_MIN_PASSPHRASE_LEN: %w", err)
		}
		cfg.MinPassphraseLength = int(u)
	}

	if v, ok := os.LookupEnv("LABDASH_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("LABDASH_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("LABDASH_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("LABDASH_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("LABDASH_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("LABDASH_ARGON2_PARALLELISM: %w", err)
		}
		if u > math.MaxUint8 {
			return Config{}, fmt.Errorf("LABDASH_ARGON2_PARALLELISM: out of range [0..%d]", math.MaxUint8)
		}
		cfg.Params.Parallelism = uint8(u)
	}

	if v, ok := os.LookupEnv("LABDASH_ARGON2_SALT_LEN"); ok {
		u, err := atou32(v, 8, 64)
		if err != nil {
			return Config{}, fmt.Errorf("LABDASH_ARGON2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = u
	}

	return cfg, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
