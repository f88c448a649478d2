package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klynaa/realtime/internal/api"
	"github.com/klynaa/realtime/internal/auth"
	"github.com/klynaa/realtime/internal/config"
)

var errNoCredentials = errors.New("no usable access token and no username/password configured")

// newAPIClient opens the token store and builds the REST client.
func newAPIClient(cfg config.APIConfig, logger *slog.Logger) (*api.Client, error) {
	var (
		store *auth.Store
		err   error
	)
	if cfg.TokenFile != "" {
		store, err = auth.NewFileStore(cfg.TokenFile)
		if err != nil {
			return nil, err
		}
	} else {
		store = auth.NewMemoryStore(auth.Tokens{})
	}

	if cfg.Token != "" {
		if err := store.Set(auth.Tokens{Access: cfg.Token}); err != nil {
			return nil, fmt.Errorf("store configured token: %w", err)
		}
	}

	return api.NewClient(cfg.BaseURL, store,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.MaxRetries, time.Second),
	), nil
}

// ensureAccessToken returns an access token valid for at least the refresh
// window, refreshing or logging in as needed. claims is nil for opaque
// tokens.
func ensureAccessToken(ctx context.Context, client *api.Client, cfg config.APIConfig, now time.Time, logger *slog.Logger) (string, *auth.Claims, error) {
	tokens := client.Tokens().Tokens()

	if tokens.Access != "" {
		claims, err := auth.ParseClaims(tokens.Access)
		switch {
		case errors.Is(err, auth.ErrMalformedToken):
			logger.Debug("access token is not a JWT, using it as is")
			return tokens.Access, nil, nil
		case err != nil:
			return "", nil, err
		case !claims.ExpiresWithin(now, cfg.RefreshWindow):
			return tokens.Access, claims, nil
		}
		logger.Info("access token expiring", "expires_at", claims.Expiry())

		if tokens.Refresh != "" {
			refreshed, err := client.RefreshToken(ctx)
			if err == nil {
				return parsedToken(refreshed.Access)
			}
			logger.Warn("token refresh failed", "error", err)
		}
	}

	if cfg.Username == "" || cfg.Password == "" {
		return "", nil, errNoCredentials
	}

	logger.Info("obtaining access token", "username", cfg.Username)
	obtained, err := client.ObtainToken(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return "", nil, err
	}
	return parsedToken(obtained.Access)
}

func parsedToken(access string) (string, *auth.Claims, error) {
	claims, err := auth.ParseClaims(access)
	if errors.Is(err, auth.ErrMalformedToken) {
		return access, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return access, claims, nil
}

// resolveWorkerID prefers the configured id and falls back to the token's
// user_id claim.
func resolveWorkerID(configured string, claims *auth.Claims) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if claims != nil && claims.UserID != "" {
		return string(claims.UserID), nil
	}
	return "", errors.New("worker.id is not set and the access token has no user_id claim")
}
