package credential

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CookieName is the companion cookie read by dashboard route middleware.
const CookieName = "access_token"

// CompanionCookie mirrors the access credential into a cookie jar so page
// requests made with the same jar carry it. Its expiry follows the durability:
// a session cookie for Session, an absolute expiry for Persistent.
type CompanionCookie struct {
	jar    http.CookieJar
	u      *url.URL
	ttl    time.Duration
	secure bool
}

// NewCompanionCookie binds the cookie to the dashboard base URL.
func NewCompanionCookie(jar http.CookieJar, baseURL string, persistentTTL time.Duration) (*CompanionCookie, error) {
	if jar == nil {
		return nil, errors.New("credential: nil cookie jar")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("credential: cookie url must be http/https")
	}
	if u.Host == "" {
		return nil, errors.New("credential: cookie url missing host")
	}
	if persistentTTL <= 0 {
		persistentTTL = 7 * 24 * time.Hour
	}
	return &CompanionCookie{
		jar:    jar,
		u:      &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		ttl:    persistentTTL,
		secure: u.Scheme == "https",
	}, nil
}

// Set stores value with an expiry matching d.
func (c *CompanionCookie) Set(value string, d Durability, now time.Time) {
	if c == nil {
		return
	}
	ck := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if d == Persistent {
		ck.Expires = now.Add(c.ttl).UTC()
	}
	c.jar.SetCookies(c.u, []*http.Cookie{ck})
}

// Expire removes the cookie from the jar.
func (c *CompanionCookie) Expire() {
	if c == nil {
		return
	}
	c.jar.SetCookies(c.u, []*http.Cookie{{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}})
}

// Value returns the cookie currently held by the jar for the dashboard URL.
func (c *CompanionCookie) Value() (string, bool) {
	if c == nil {
		return "", false
	}
	for _, ck := range c.jar.Cookies(c.u) {
		if ck.Name == CookieName && ck.Value != "" {
			return ck.Value, true
		}
	}
	return "", false
}
