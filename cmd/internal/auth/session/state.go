package session

import "labdash/cmd/internal/auth/credential"

// State is the lifecycle phase of the session.
type State uint8

const (
	// StateAnonymous means no credentials are held.
	StateAnonymous State = iota
	// StateAuthenticating covers an in-flight login or session restore.
	StateAuthenticating
	// StateAuthenticated means a user and credential pair are held.
	StateAuthenticated
	// StateRenewing is StateAuthenticated with a refresh in flight.
	StateRenewing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session published to observers.
type Snapshot struct {
	State       State
	User        User
	Roles       []string
	Permissions []string
	Durability  credential.Durability

	// Error is the last user-facing failure (login rejected, restore failed).
	// It is cleared by the next successful transition.
	Error string
}

// IsAuthenticated reports whether a user is signed in (renewal included).
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated || s.State == StateRenewing
}

// IsLoading reports whether a login or restore is in flight.
func (s Snapshot) IsLoading() bool {
	return s.State == StateAuthenticating
}
