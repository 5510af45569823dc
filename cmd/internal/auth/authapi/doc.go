// Package authapi is the HTTP client for the lab backend's auth endpoints.
//
// Client implements session.Authenticator:
//   - POST /auth/login    {email, password, remember_me, platform} -> {user, session}
//   - POST /auth/logout   Bearer access token -> 204
//   - POST /auth/refresh  {refresh_token, platform} -> {session}
//   - GET  /me            Bearer access token -> {user}
//
// Error bodies follow {"error":{"code","message"}}. 401 and 403 responses
// unwrap to session.ErrUnauthorized.
//
// Repeated failed logins for the same email are throttled locally before the
// backend's own lockout would trip.
package authapi
