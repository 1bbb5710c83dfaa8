package loomserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

type contextKey int

const userCtxKey contextKey = 0

// AuthUser represents an authenticated user (from gateway /auth/me).
type AuthUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// userFromContext returns the AuthUser from the request context.
func userFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(userCtxKey).(*AuthUser)
	return u
}

// ResolveUser returns the username from the request context.
// Falls back to "local" when no auth user is present.
func ResolveUser(r *http.Request) string {
	u := userFromContext(r.Context())
	if u != nil {
		return u.Username
	}
	return "local"
}

// ResolveRole returns the role from the request context.
// Falls back to "admin" when no auth user is present (matches the
// "local" username fallback used when the gateway is not configured).
func ResolveRole(r *http.Request) string {
	u := userFromContext(r.Context())
	if u != nil && u.Role != "" {
		return u.Role
	}
	return "admin"
}

// authProxy returns a reverse proxy that forwards auth endpoints
// (/auth/login, /auth/me) to the configured gateway. The gateway owns
// credential checking and token issuance; loomserver only relays.
func authProxy(gatewayURL string) http.Handler {
	target, err := url.Parse(gatewayURL)
	if err != nil {
		log.Printf("authProxy: invalid gateway URL %q: %v", gatewayURL, err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusInternalServerError, "auth gateway misconfigured")
		})
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	origDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		origDirector(r)
		r.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("auth proxy error: %v", err)
		writeJSONError(w, http.StatusBadGateway, "auth gateway unreachable")
	}
	return proxy
}

// authMiddleware validates Bearer tokens against the gateway /auth/me endpoint.
// If gatewayURL is empty, auth is disabled and all requests pass through with username="local".
func authMiddleware(gatewayURL string, next http.Handler) http.Handler {
	if gatewayURL == "" {
		// No gateway: inject "local" user and pass through
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := &AuthUser{Username: "local", Role: "admin"}
			ctx := context.WithValue(r.Context(), userCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	client := &http.Client{Timeout: 10 * time.Second}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		token := authHeader[7:]

		// Proxy to gateway /auth/me
		req, err := http.NewRequestWithContext(r.Context(), "GET", gatewayURL+"/auth/me", nil)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to create auth request")
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			log.Printf("auth proxy error: %v", err)
			writeJSONError(w, http.StatusBadGateway, "auth gateway unreachable")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read auth response")
			return
		}

		var user AuthUser
		if err := json.Unmarshal(body, &user); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to parse auth response")
			return
		}

		ctx := context.WithValue(r.Context(), userCtxKey, &user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
