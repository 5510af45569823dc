package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"labdash/cmd/internal/auth/session"
)

var (
	// ErrConfig is returned for invalid client configuration.
	ErrConfig = errors.New("invalid auth client config")

	// ErrThrottled is returned when the local login throttle blocks an attempt.
	ErrThrottled = errors.New("too many login attempts")
)

// Error is a non-2xx response from the auth backend.
type Error struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("auth api: status %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap classifies credential and token rejections as session.ErrUnauthorized
// and rate limiting as ErrThrottled.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return session.ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		return nil
	}
}
