// Package session implements the dashboard client's session controller.
//
// The Controller orchestrates login, logout, silent renewal and session restore
// on start. It owns the renewal timer, the in-memory copy of the credential pair
// and the derived permission set, and it is the only writer of the credential
// store.
//
// Access tokens are opaque to this package except for their standard "exp"
// claim, which is decoded locally (no signature check) to schedule renewal.
//
// Transport (HTTP/WS) integration is out of scope here: the auth backend is
// reached through the Authenticator interface.
package session
