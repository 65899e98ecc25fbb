package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/auth"
	"github.com/lokalhub/lokalhub/internal/service"
)

// AuthHandler manages the provider login flow and the session cookie.
//
// RESPONSIBILITIES:
//   - HandleLogin    → redirect the browser to the provider's authorization page
//   - HandleCallback → receive the code, reconcile the identity, issue the JWT
//   - HandleLogout   → clear the JWT cookie
//   - HandleMe       → return the currently logged-in account
//
// The handler owns HTTP concerns only. The OAuth exchange lives in the
// provider clients, the reconciliation decision in the identity service.
type AuthHandler struct {
	providers *auth.Registry
	tokens    *auth.TokenService
	identity  *service.IdentityService
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(
	providers *auth.Registry,
	tokens *auth.TokenService,
	identity *service.IdentityService,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		providers: providers,
		tokens:    tokens,
		identity:  identity,
		logger:    logger,
	}
}

// HandleLogin redirects the member to the provider's authorization page.
//
// HTTP: GET /auth/{provider}/login
//
// A random state value goes into a short-lived HttpOnly cookie; the callback
// verifies the provider echoed it back, which proves the flow started here
// and not on an attacker's page.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, apperror.NotFound("provider", chi.URLParam(r, "provider")))
		return
	}

	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the login flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the raw provider payload
//  3. Reconcile the payload into an account (create, update, or reject)
//  4. Issue a JWT access token in an HttpOnly cookie
//  5. Redirect to the app home page
//
// A DuplicateNickname from the reconciler is NOT an internal failure: it
// comes back as 409 so the member can start the manual merge flow.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, apperror.NotFound("provider", chi.URLParam(r, "provider")))
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch",
			slog.String("provider", p.Name()),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: member denied authorization",
			slog.String("provider", p.Name()),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	payload, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: exchange failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	account, err := h.identity.Authenticate(r.Context(), payload)
	if err != nil {
		if errors.Is(err, apperror.ErrDuplicateNickname) {
			writeError(w, err)
			return
		}
		h.logger.Error("auth callback: reconciliation failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	tokenStr, err := h.tokens.Generate(account.ID)
	if err != nil {
		h.logger.Error("auth callback: token generation failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	// HttpOnly: JavaScript cannot read the session token.
	// Secure should be true in production (HTTPS only).
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    tokenStr,
		Path:     "/",
		MaxAge:   int((15 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /auth/logout
//
// Stateless sessions: "logout" deletes the client-side cookie; the token
// itself stays valid until its 15-minute expiry.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated account.
//
// HTTP: GET /api/me
// Auth: Required (RequireAuth middleware sets the account ID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		// Should never happen on a RequireAuth-protected route.
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	account, err := h.identity.GetByID(r.Context(), accountID)
	if err != nil {
		h.logger.Error("HandleMe: account not found", slog.String("accountID", accountID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}
