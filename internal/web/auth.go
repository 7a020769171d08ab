package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/utils"
)

// identClaims are checked in order for the caller's NAV ident
var identClaims = []string{"NAVident", "navident", "nav_ident", "preferred_username", "sub", "upn"}

// TokenIntrospectionRequest represents the payload sent to the introspection endpoint
type TokenIntrospectionRequest struct {
	IdentityProvider string `json:"identity_provider"`
	Token            string `json:"token"`
}

// TokenIntrospectionResponse represents the response from the introspection endpoint
type TokenIntrospectionResponse struct {
	Active bool           `json:"active"`
	Claims map[string]any `json:"claims,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// AuthMiddleware restricts the admin dashboard to listed admins holding a valid bearer token
type AuthMiddleware struct {
	endpoint   string
	provider   string
	admins     []string
	httpClient *http.Client
	log        *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(cfg config.AdminConfig, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		endpoint: cfg.IntrospectionEndpoint,
		provider: cfg.IdentityProvider,
		admins:   cfg.Admins,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.Named("auth"),
	}
}

// RequireAuth is a middleware that validates Bearer tokens
func (auth *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.endpoint == "" {
			auth.log.Warn("token introspection endpoint not configured, admin access disabled")
			http.Error(w, "Authentication not configured", http.StatusServiceUnavailable)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			http.Error(w, "Bearer token required", http.StatusUnauthorized)
			return
		}

		active, ident, err := auth.introspect(r.Context(), token)
		if err != nil {
			auth.log.Error("token validation failed", zap.Error(err))
			http.Error(w, "Token validation failed", http.StatusBadGateway)
			return
		}
		if !active {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if ident == "" || !slices.Contains(auth.admins, ident) {
			auth.log.Warn("admin access denied", utils.SafeString("nav_ident", ident))
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}

// introspect validates the token and returns whether it is active and the caller's ident
func (auth *AuthMiddleware) introspect(ctx context.Context, token string) (bool, string, error) {
	body, err := json.Marshal(TokenIntrospectionRequest{
		IdentityProvider: auth.provider,
		Token:            token,
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := auth.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false, "", fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var result TokenIntrospectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		return false, "", fmt.Errorf("introspection error: %s", result.Error)
	}

	for _, claim := range identClaims {
		if ident, ok := result.Claims[claim].(string); ok && ident != "" {
			return result.Active, ident, nil
		}
	}
	return result.Active, "", nil
}
