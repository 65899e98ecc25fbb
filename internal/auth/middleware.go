package auth

import (
	"context"
	"net/http"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so no other package can
// read or shadow the account ID stored in the context.
type contextKey string

const accountIDKey contextKey = "accountID"

// RequireAuth enforces authentication on protected routes.
//
// It reads the JWT from the "token" HttpOnly cookie, validates it, and
// stores the account ID in the request context. A missing or invalid token
// ends the request with 401 before the handler runs.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := extractAccountID(r, tokens)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the account identity if a valid token is present but
// never blocks the request. Handlers check AccountIDFromContext — ("", false)
// means anonymous.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accountID, err := extractAccountID(r, tokens); err == nil && accountID != "" {
				ctx := context.WithValue(r.Context(), accountIDKey, accountID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDFromContext retrieves the authenticated account's ID from the
// request context. Returns ("", false) for anonymous requests.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

// extractAccountID reads the JWT cookie and validates it.
func extractAccountID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie("token")
	if err != nil {
		// http.ErrNoCookie — no token, just anonymous
		return "", err
	}

	return tokens.Validate(cookie.Value)
}
