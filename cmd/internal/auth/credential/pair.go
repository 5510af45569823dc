package credential

import (
	"errors"
	"strings"
)

// Durability selects which area a credential pair is persisted into.
type Durability uint8

const (
	// Session pairs live only for the lifetime of the process.
	Session Durability = iota + 1
	// Persistent pairs survive restarts ("remember me").
	Persistent
)

func (d Durability) String() string {
	switch d {
	case Session:
		return "session"
	case Persistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// DurabilityFor maps the "remember me" choice to a Durability.
func DurabilityFor(rememberMe bool) Durability {
	if rememberMe {
		return Persistent
	}
	return Session
}

// Pair is an access/refresh credential pair.
type Pair struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Durability   Durability `json:"-"`
}

// IsZero reports whether the pair carries no access credential.
func (p Pair) IsZero() bool {
	return strings.TrimSpace(p.AccessToken) == ""
}

var (
	// ErrEmptyCredential is returned when writing a pair without an access token.
	ErrEmptyCredential = errors.New("credential: empty access token")

	// ErrInvalidDurability is returned for a Durability outside {Session, Persistent}.
	ErrInvalidDurability = errors.New("credential: invalid durability")

	// ErrNoCredential is returned when an update targets a store holding no pair.
	ErrNoCredential = errors.New("credential: no stored pair")
)
