package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"labdash/cmd/internal/auth/credential"
	"labdash/cmd/security/token"
)

const refreshKey = "refresh"

// CredentialStore is the persistence the controller writes through.
// *credential.Store satisfies it.
type CredentialStore interface {
	Write(ctx context.Context, p credential.Pair, d credential.Durability) error
	Read(ctx context.Context) (credential.Pair, bool)
	UpdateAccess(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics attaches lifecycle counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller owns the client session: user, credential pair, derived grants
// and the renewal timer.
//
// Every login, logout and restore starts a new epoch. Responses that resolve
// under an older epoch are discarded, so a slow login can never resurrect a
// session the user already signed out of.
type Controller struct {
	cfg     Config
	auth    Authenticator
	store   CredentialStore
	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics

	mu      sync.RWMutex
	epoch   uint64
	state   State
	user    User
	grants  *Grants
	pair    credential.Pair
	lastErr string

	refreshGroup singleflight.Group
	refreshing   atomic.Bool

	timerMu sync.Mutex
	timer   *renewalTimer

	listenersMu sync.Mutex
	listeners   map[uint64]func(Snapshot)
	nextID      uint64
}

// NewController constructs a Controller in the anonymous state.
func NewController(cfg Config, auth Authenticator, store CredentialStore, log *slog.Logger, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil || store == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		cfg:       cfg,
		auth:      auth,
		store:     store,
		log:       log,
		now:       time.Now,
		state:     StateAnonymous,
		listeners: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ---- Queries ----

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:       c.state,
		User:        c.user,
		Roles:       c.grants.RoleNames(),
		Permissions: c.grants.Permissions(),
		Durability:  c.pair.Durability,
		Error:       c.lastErr,
	}
}

// IsAuthenticated reports whether a user is signed in.
func (c *Controller) IsAuthenticated() bool {
	return c.Snapshot().IsAuthenticated()
}

// AccessToken returns the current access credential, or "" when anonymous.
// It is what the realtime layer presents on connect.
func (c *Controller) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateAnonymous {
		return ""
	}
	return c.pair.AccessToken
}

// Grants returns the derived permission set (nil when anonymous).
func (c *Controller) Grants() *Grants {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grants
}

func (c *Controller) HasPermission(perm string) bool { return c.Grants().HasPermission(perm) }

func (c *Controller) HasAnyPermission(perms ...string) bool {
	return c.Grants().HasAnyPermission(perms...)
}

func (c *Controller) HasAllPermissions(perms ...string) bool {
	return c.Grants().HasAllPermissions(perms...)
}

func (c *Controller) HasRole(name string) bool { return c.Grants().HasRole(name) }

func (c *Controller) HasAnyRole(names ...string) bool { return c.Grants().HasAnyRole(names...) }

// OnChange registers fn to receive the current snapshot after every
// transition. Listeners run synchronously on the goroutine that made the
// transition and must not call Login, Logout or LoadUser.
func (c *Controller) OnChange(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) notify() {
	snap := c.Snapshot()

	c.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// ---- Login ----

// Login authenticates with the backend, persists the credential pair under the
// durability chosen by RememberMe and starts the renewal timer.
//
// On failure the controller is left anonymous with nothing persisted.
func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return ErrMissingCredentials
	}

	c.mu.Lock()
	if c.state == StateAuthenticated || c.state == StateRenewing {
		c.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	c.epoch++
	epoch := c.epoch
	c.state = StateAuthenticating
	c.lastErr = ""
	c.mu.Unlock()
	c.notify()

	res, err := c.auth.Login(ctx, email, creds.Password, creds.RememberMe)
	if err == nil && res.Tokens.AccessToken == "" {
		err = ErrMalformedResponse
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		} else {
			err = fmt.Errorf("session: login: %w", err)
		}
		if !c.failIfCurrent(epoch, err) {
			return ErrSuperseded
		}
		c.metrics.login("fail")
		c.log.Info("session.login.fail", "err", err)
		c.notify()
		return err
	}

	d := credential.DurabilityFor(creds.RememberMe)
	pair := credential.Pair{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		Durability:   d,
	}
	grants := NewGrants(res.User.Roles)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Info("session.login.superseded", "user_id", res.User.ID)
		return ErrSuperseded
	}
	if err := c.store.Write(ctx, pair, d); err != nil {
		c.resetLocked()
		c.lastErr = userMessage(err)
		c.mu.Unlock()
		c.metrics.login("fail")
		c.log.Error("session.login.persist_fail", "err", err)
		c.notify()
		return fmt.Errorf("session: persist credentials: %w", err)
	}
	c.state = StateAuthenticated
	c.user = res.User
	c.grants = grants
	c.pair = pair
	c.mu.Unlock()

	c.startTimer(epoch)
	c.metrics.login("ok")
	c.log.Info("session.login.ok",
		"user_id", res.User.ID,
		"durability", d.String(),
		"access_fp", token.Fingerprint(pair.AccessToken),
	)
	c.notify()
	return nil
}

// ---- Logout ----

// Logout stops the renewal timer, tells the backend (best effort, bounded by
// LogoutTimeout), clears stored credentials and resets the session.
// Remote failures are logged; local state is always cleared.
func (c *Controller) Logout(ctx context.Context) error {
	c.stopTimer(ctx)

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	access := c.pair.AccessToken
	c.mu.Unlock()

	return c.teardown(ctx, epoch, access, "user", "")
}

// forceLogout tears down the session identified by epoch, if it is still the
// current one.
func (c *Controller) forceLogout(ctx context.Context, epoch uint64, reason, msg string) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.epoch++
	next := c.epoch
	access := c.pair.AccessToken
	c.mu.Unlock()

	c.stopTimer(ctx)
	if err := c.teardown(ctx, next, access, reason, msg); err != nil {
		c.log.Warn("session.logout.clear_fail", "reason", reason, "err", err)
	}
}

func (c *Controller) teardown(ctx context.Context, epoch uint64, access, reason, msg string) error {
	bg := context.WithoutCancel(ctx)

	if access != "" {
		lctx, cancel := context.WithTimeout(bg, c.cfg.LogoutTimeout)
		if err := c.auth.Logout(lctx, access); err != nil {
			c.log.Warn("session.logout.remote_fail", "reason", reason, "err", err)
		}
		cancel()
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// A newer login owns the store now.
		c.mu.Unlock()
		c.log.Info("session.logout.superseded", "reason", reason)
		return nil
	}
	err := c.store.Clear(bg)
	c.resetLocked()
	c.lastErr = msg
	c.mu.Unlock()

	c.metrics.logout()
	c.log.Info("session.logout", "reason", reason)
	c.notify()

	if err != nil {
		return fmt.Errorf("session: clear credentials: %w", err)
	}
	return nil
}

// ---- Renewal ----

// RefreshSession exchanges the refresh credential for a new access credential.
//
// Concurrent calls share one backend request. A rejected refresh, or a missing
// refresh credential, stops the timer and performs a full logout; the returned
// error then wraps ErrRenewalFailed or is ErrNoRefreshToken. A cancelled ctx
// leaves the session as it was.
func (c *Controller) RefreshSession(ctx context.Context) error {
	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) refresh(ctx context.Context) error {
	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	c.mu.Lock()
	// A login in flight holds no pair yet; only established or restoring
	// sessions are renewed (or torn down).
	if c.state == StateAnonymous || (c.state == StateAuthenticating && c.pair.IsZero()) {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	epoch := c.epoch
	refreshTok := c.pair.RefreshToken
	if c.state == StateAuthenticated {
		c.state = StateRenewing
	}
	c.mu.Unlock()
	c.notify()

	if refreshTok == "" {
		c.metrics.renewal("no_refresh_token")
		c.log.Warn("session.renew.no_refresh_token")
		c.forceLogout(ctx, epoch, "no_refresh_token", userMessage(ErrNoRefreshToken))
		return ErrNoRefreshToken
	}

	toks, err := c.auth.Refresh(ctx, refreshTok)
	if err == nil && toks.AccessToken == "" {
		err = ErrMalformedResponse
	}
	if err != nil {
		if ctx.Err() != nil {
			c.endRenewing(epoch)
			return ctx.Err()
		}
		c.metrics.renewal("fail")
		c.log.Warn("session.renew.fail", "err", err)
		c.forceLogout(ctx, epoch, "renewal_failed", userMessage(ErrRenewalFailed))
		return fmt.Errorf("%w: %w", ErrRenewalFailed, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Info("session.renew.superseded")
		return ErrSuperseded
	}
	if err := c.store.UpdateAccess(ctx, toks.AccessToken, toks.RefreshToken); err != nil {
		c.log.Warn("session.renew.persist_fail", "err", err)
	}
	c.pair.AccessToken = toks.AccessToken
	if toks.RefreshToken != "" {
		c.pair.RefreshToken = toks.RefreshToken
	}
	if c.state == StateRenewing {
		c.state = StateAuthenticated
	}
	c.mu.Unlock()

	c.metrics.renewal("ok")
	c.log.Debug("session.renew.ok",
		"access_fp", token.Fingerprint(toks.AccessToken),
		"refresh_rotated", toks.RefreshToken != "",
	)
	c.notify()
	return nil
}

func (c *Controller) endRenewing(epoch uint64) {
	c.mu.Lock()
	changed := c.epoch == epoch && c.state == StateRenewing
	if changed {
		c.state = StateAuthenticated
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// ---- Restore ----

// LoadUser restores a session from stored credentials on start. With nothing
// stored it is a no-op. An expired access credential is renewed first; the
// user is then fetched with the current access credential. Failure has the
// same outcome as a failed renewal: a full logout.
func (c *Controller) LoadUser(ctx context.Context) error {
	pair, ok := c.store.Read(ctx)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.state != StateAnonymous {
		c.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	c.epoch++
	epoch := c.epoch
	c.state = StateAuthenticating
	c.pair = pair
	c.lastErr = ""
	c.mu.Unlock()
	c.notify()

	refreshed := false
	if exp, err := tokenExpiry(pair.AccessToken); err == nil && !exp.After(c.now()) {
		if err := c.RefreshSession(ctx); err != nil {
			return c.restoreFailed(ctx, epoch, err)
		}
		refreshed = true
	}

	user, err := c.auth.CurrentUser(ctx, c.AccessToken())
	if errors.Is(err, ErrUnauthorized) && !refreshed {
		if rerr := c.RefreshSession(ctx); rerr != nil {
			return c.restoreFailed(ctx, epoch, rerr)
		}
		user, err = c.auth.CurrentUser(ctx, c.AccessToken())
	}
	if err != nil {
		return c.restoreFailed(ctx, epoch, err)
	}

	grants := NewGrants(user.Roles)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.state = StateAuthenticated
	c.user = user
	c.grants = grants
	c.mu.Unlock()

	c.startTimer(epoch)
	c.log.Info("session.restore.ok",
		"user_id", user.ID,
		"durability", pair.Durability.String(),
	)
	c.notify()
	return nil
}

func (c *Controller) restoreFailed(ctx context.Context, epoch uint64, err error) error {
	switch {
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrRenewalFailed), errors.Is(err, ErrNoRefreshToken):
		// Renewal already tore the session down (or a newer operation owns it).
		return err
	case ctx.Err() != nil:
		// Keep stored credentials so the next start can retry.
		c.mu.Lock()
		current := c.epoch == epoch
		if current {
			c.resetLocked()
		}
		c.mu.Unlock()
		if current {
			c.notify()
		}
		return ctx.Err()
	}

	c.log.Warn("session.restore.fail", "err", err)
	c.forceLogout(ctx, epoch, "restore_failed", userMessage(err))
	return fmt.Errorf("session: restore: %w", err)
}

// ---- Lifecycle ----

// Close stops the renewal timer. Stored credentials are left in place.
func (c *Controller) Close() {
	c.stopTimer(context.Background())
}

func (c *Controller) failIfCurrent(epoch uint64, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.resetLocked()
	c.lastErr = userMessage(err)
	return true
}

func (c *Controller) resetLocked() {
	c.state = StateAnonymous
	c.user = User{}
	c.grants = nil
	c.pair = credential.Pair{}
	c.lastErr = ""
}

func (c *Controller) isCurrent(epoch uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch == epoch
}

func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrRenewalFailed), errors.Is(err, ErrNoRefreshToken):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrUnauthorized):
		return "Your session is no longer valid. Please sign in again."
	default:
		return "Sign-in is temporarily unavailable. Please try again."
	}
}
