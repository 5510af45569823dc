package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var expiryParser = jwt.NewParser()

// tokenExpiry reads the "exp" claim of a JWT access token without verifying
// its signature. The backend remains the authority on validity.
func tokenExpiry(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := expiryParser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrTokenDecode, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrTokenDecode, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrTokenDecode)
	}
	return exp.Time, nil
}
