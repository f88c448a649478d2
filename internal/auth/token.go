package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken        = errors.New("no access token")
	ErrMalformedToken = errors.New("malformed access token")
)

// UserID is a user_id claim. The backend may encode it as a number or a
// string.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// Claims are the fields read from an access token.
type Claims struct {
	UserID    UserID `json:"user_id"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of a token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Expiry returns the token's expiry, or the zero time when it has none.
func (c *Claims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// ExpiresWithin reports whether the token expires before now+d. Tokens
// without an expiry never do.
func (c *Claims) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(d).Before(exp)
}
