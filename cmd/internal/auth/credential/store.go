package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"labdash/cmd/security/token"
)

// Store holds the credential pair across the two durabilities.
type Store struct {
	mu sync.Mutex

	session Area
	durable Area
	cookie  *CompanionCookie

	log *slog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSessionArea sets the area used for Session durability.
func WithSessionArea(a Area) Option { return func(s *Store) { s.session = a } }

// WithDurableArea sets the area used for Persistent durability.
func WithDurableArea(a Area) Option { return func(s *Store) { s.durable = a } }

// WithCompanionCookie enables the access_token cookie mirror.
func WithCompanionCookie(c *CompanionCookie) Option { return func(s *Store) { s.cookie = c } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(s *Store) { s.log = log } }

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore builds a Store. Areas left unset make the matching operations no-ops.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) area(d Durability) Area {
	switch d {
	case Session:
		return s.session
	case Persistent:
		return s.durable
	default:
		return nil
	}
}

func opposite(d Durability) Durability {
	if d == Session {
		return Persistent
	}
	return Session
}

// Write persists p into the area selected by d and clears the other area.
// If the other area cannot be cleared, the freshly written area is cleared too,
// so a pair is never readable from both.
func (s *Store) Write(ctx context.Context, p Pair, d Durability) error {
	if s == nil {
		return nil
	}
	if d != Session && d != Persistent {
		return ErrInvalidDurability
	}
	if p.IsZero() {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.area(d)
	if target != nil {
		if err := target.Save(ctx, p); err != nil {
			return fmt.Errorf("credential: write %s: %w", d, err)
		}
	}

	if other := s.area(opposite(d)); other != nil {
		if err := other.Clear(ctx); err != nil {
			if target != nil {
				_ = target.Clear(ctx)
			}
			s.cookie.Expire()
			return fmt.Errorf("credential: clear %s: %w", opposite(d), err)
		}
	}

	s.cookie.Set(p.AccessToken, d, s.now())

	s.log.Debug("credential.write",
		"durability", d.String(),
		"access_fp", token.Fingerprint(p.AccessToken),
	)
	return nil
}

// Read returns the stored pair, checking the session area first.
// Backend failures are logged and reported as absent.
func (s *Store) Read(ctx context.Context) (Pair, bool) {
	if s == nil {
		return Pair{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked(ctx)
}

func (s *Store) readLocked(ctx context.Context) (Pair, bool) {
	for _, d := range []Durability{Session, Persistent} {
		a := s.area(d)
		if a == nil {
			continue
		}
		p, ok, err := a.Load(ctx)
		if err != nil {
			s.log.Warn("credential.read.fail", "durability", d.String(), "err", err)
			continue
		}
		if ok {
			p.Durability = d
			return p, true
		}
	}
	return Pair{}, false
}

// UpdateAccess replaces the access credential (and the refresh credential, when
// refresh is non-empty) in whichever area already holds the pair. The durability
// of a stored pair never changes.
func (s *Store) UpdateAccess(ctx context.Context, access, refresh string) error {
	if s == nil {
		return nil
	}
	if access == "" {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.readLocked(ctx)
	if !ok {
		return ErrNoCredential
	}

	next := Pair{AccessToken: access, RefreshToken: cur.RefreshToken}
	if refresh != "" {
		next.RefreshToken = refresh
	}
	if err := s.area(cur.Durability).Save(ctx, next); err != nil {
		return fmt.Errorf("credential: update %s: %w", cur.Durability, err)
	}

	s.cookie.Set(access, cur.Durability, s.now())

	s.log.Debug("credential.update",
		"durability", cur.Durability.String(),
		"access_fp", token.Fingerprint(access),
		"refresh_rotated", refresh != "" && refresh != cur.RefreshToken,
	)
	return nil
}

// Clear empties both areas and expires the companion cookie. All areas are
// attempted even if one fails.
func (s *Store) Clear(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, d := range []Durability{Session, Persistent} {
		a := s.area(d)
		if a == nil {
			continue
		}
		if err := a.Clear(ctx); err != nil {
			s.log.Warn("credential.clear.fail", "durability", d.String(), "err", err)
			errs = append(errs, fmt.Errorf("credential: clear %s: %w", d, err))
		}
	}
	s.cookie.Expire()

	return errors.Join(errs...)
}
