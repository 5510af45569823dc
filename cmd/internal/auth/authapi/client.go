package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labdash/cmd/internal/auth/session"
)

// Client talks to the backend's auth endpoints.
type Client struct {
	cfg      Config
	base     *url.URL
	hc       *http.Client
	log      *slog.Logger
	now      func() time.Time
	throttle *loginThrottle
}

var _ session.Authenticator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient shares an http.Client (and its cookie jar) with the caller.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithClock overrides the time source used by the login throttle.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New validates cfg and returns a Client.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		base:     base,
		hc:       &http.Client{Timeout: cfg.Timeout},
		log:      log,
		now:      time.Now,
		throttle: newLoginThrottle(cfg.LoginMaxFailures, cfg.LoginFailureWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges email and password for a user and credential pair.
func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (session.LoginResult, error) {
	now := c.now()
	if blocked, retry := c.throttle.check(email, now); blocked {
		c.log.Warn("authapi.login.throttled", "retry_after", retry.String())
		return session.LoginResult{}, &Error{
			Status:     http.StatusTooManyRequests,
			Code:       "rate_limited",
			Message:    "too many attempts",
			RetryAfter: retry,
		}
	}

	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
		Platform:   string(c.cfg.Platform),
	}, &resp)
	if err != nil {
		if isUnauthorized(err) {
			c.throttle.fail(email, now)
		}
		return session.LoginResult{}, err
	}
	c.throttle.reset(email)

	return session.LoginResult{
		User: c.toUser(resp.User),
		Tokens: session.Tokens{
			AccessToken:  resp.Session.AccessToken,
			RefreshToken: resp.Session.RefreshToken,
		},
	}, nil
}

// Logout revokes the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// Refresh exchanges a refresh credential for a new access credential. The
// returned RefreshToken is empty unless the backend rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Tokens, error) {
	var resp refreshResponse
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refreshToken,
		Platform:     string(c.cfg.Platform),
	}, &resp)
	if err != nil {
		return session.Tokens{}, err
	}

	rotated := resp.Session.RefreshToken
	if rotated == refreshToken {
		rotated = ""
	}
	return session.Tokens{AccessToken: resp.Session.AccessToken, RefreshToken: rotated}, nil
}

// CurrentUser fetches the user the access credential belongs to.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (session.User, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/me", accessToken, nil, &resp); err != nil {
		return session.User{}, err
	}
	return c.toUser(resp.User), nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authapi: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("authapi: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("authapi.request.fail", "method", method, "path", path, "err", err)
		return fmt.Errorf("authapi: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("authapi.request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"dur_ms", time.Since(start).Milliseconds(),
	)

	limited := io.LimitReader(resp.Body, c.cfg.MaxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp, limited)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := decodeJSON(limited, out); err != nil {
		return fmt.Errorf("authapi: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) toUser(u userResponse) session.User {
	out := session.User{ID: u.ID, Email: u.Email}
	if u.DisplayName != nil {
		out.DisplayName = *u.DisplayName
	}
	if u.OrgID != nil {
		out.OrgID = *u.OrgID
	}
	for _, r := range u.Roles {
		role := session.Role{Name: r.Name}
		for _, s := range r.Permissions {
			p, err := session.ParsePermission(s)
			if err != nil {
				c.log.Warn("authapi.permission.invalid", "role", r.Name, "permission", s)
				continue
			}
			role.Permissions = append(role.Permissions, p)
		}
		out.Roles = append(out.Roles, role)
	}
	return out
}

func isUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}
