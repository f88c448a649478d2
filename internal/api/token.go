package api

import (
	"context"
	"fmt"

	"github.com/klynaa/realtime/internal/auth"
)

// ObtainToken logs in with username and password and stores the returned
// pair.
func (c *Client) ObtainToken(ctx context.Context, username, password string) (auth.Tokens, error) {
	payload := map[string]string{"username": username, "password": password}

	var resp TokenResponse
	if err := c.post(ctx, "/users/token/", payload, &resp, true); err != nil {
		return auth.Tokens{}, fmt.Errorf("obtain token: %w", err)
	}

	tokens := auth.Tokens{Access: resp.Access, Refresh: resp.Refresh}
	if err := c.tokens.Set(tokens); err != nil {
		return auth.Tokens{}, fmt.Errorf("store token: %w", err)
	}
	return c.tokens.Tokens(), nil
}

// RefreshToken exchanges the stored refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context) (auth.Tokens, error) {
	refresh := c.tokens.Tokens().Refresh
	if refresh == "" {
		return auth.Tokens{}, fmt.Errorf("refresh token: %w", auth.ErrNoToken)
	}

	var resp TokenResponse
	if err := c.post(ctx, "/users/token/refresh/", map[string]string{"refresh": refresh}, &resp, true); err != nil {
		return auth.Tokens{}, fmt.Errorf("refresh token: %w", err)
	}

	if err := c.tokens.Set(auth.Tokens{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
		return auth.Tokens{}, fmt.Errorf("store token: %w", err)
	}
	return c.tokens.Tokens(), nil
}
