package authapi

import "time"

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Platform     string `json:"platform"`
}

type roleResponse struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type userResponse struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DisplayName *string        `json:"display_name"`
	OrgID       *string        `json:"org_id"`
	Roles       []roleResponse `json:"roles"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}
