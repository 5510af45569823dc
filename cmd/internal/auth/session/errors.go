package session

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrUnauthorized is the classification an Authenticator attaches to
	// 401/403 responses (credential or token rejected by the backend).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is returned by Login when the backend rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingCredentials is returned by Login for an empty email or password.
	ErrMissingCredentials = errors.New("email and password are required")

	// ErrAlreadyAuthenticated is returned by Login and LoadUser while a session is active.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")

	// ErrNotAuthenticated is returned by RefreshSession when there is no session to renew.
	ErrNotAuthenticated = errors.New("session not authenticated")

	// ErrNoRefreshToken is returned when renewal is attempted without a refresh credential.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRenewalFailed wraps a rejected refresh; the session has been torn down.
	ErrRenewalFailed = errors.New("session renewal failed")

	// ErrSuperseded is returned when a login or refresh resolved after a newer
	// login or logout; its result was discarded.
	ErrSuperseded = errors.New("session operation superseded")

	// ErrTokenDecode is returned when the access token expiry claim cannot be read.
	ErrTokenDecode = errors.New("access token decode failed")

	// ErrMalformedResponse is returned when the backend omits required fields.
	ErrMalformedResponse = errors.New("malformed auth response")
)
