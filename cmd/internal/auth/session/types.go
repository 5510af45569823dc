package session

import (
	"context"
	"fmt"
	"strings"
)

// Platform represents the client platform reported to the auth backend.
type Platform string

const (
	// PlatformWeb is a browser-based session.
	PlatformWeb Platform = "web"
	// PlatformIOS is an iOS native session.
	PlatformIOS Platform = "ios"
	// PlatformAndroid is an Android native session.
	PlatformAndroid Platform = "android"
	// PlatformDesktop is a desktop (macOS/Windows/Linux) session.
	PlatformDesktop Platform = "desktop"
)

// Permission is a capability granted by a role, written "resource:action".
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// String returns the canonical "resource:action" form.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses "resource:action".
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || res == "" || act == "" {
		return Permission{}, fmt.Errorf("invalid permission %q", s)
	}
	return Permission{Resource: res, Action: act}, nil
}

// Role is a named bundle of permissions.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// User is the authenticated principal as returned by the backend.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	OrgID       string `json:"org_id,omitempty"`
	Roles       []Role `json:"roles"`
}

// Tokens is a credential pair issued by the backend.
// RefreshToken is empty when the backend does not rotate it on refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	User   User
	Tokens Tokens
}

// Credentials are what the user types into the login form.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
}

// Authenticator is the remote auth collaborator.
//
// Implementations classify credential/token rejections with ErrUnauthorized
// (errors.Is) so the controller can tell them apart from transport failures.
type Authenticator interface {
	Login(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	CurrentUser(ctx context.Context, accessToken string) (User, error)
}
