package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/auth"
	"github.com/lokalhub/lokalhub/internal/repository"
	"github.com/lokalhub/lokalhub/internal/service"
)

// AccountHandler serves the member directory and the admin bootstrap.
type AccountHandler struct {
	identity  *service.IdentityService
	bootstrap *auth.BootstrapService
	logger    *slog.Logger
}

func NewAccountHandler(
	identity *service.IdentityService,
	bootstrap *auth.BootstrapService,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		identity:  identity,
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// HandleList returns the member directory, ordered by nickname.
//
// HTTP: GET /api/accounts?limit=50&offset=0
// Auth: Required, admin only.
func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	caller, err := h.identity.GetByID(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !caller.Admin {
		writeError(w, apperror.Forbidden("admin access required"))
		return
	}

	opts := repository.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	accounts, err := h.identity.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

// promoteRequest is the body of POST /api/admin/promote.
type promoteRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// HandlePromote flips the admin flag on the named account.
//
// HTTP: POST /api/admin/promote
// Auth: the operator's bootstrap password, not a session — this is how the
// FIRST admin comes into existence, so it cannot require an existing admin.
func (h *AccountHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if req.Nickname == "" {
		writeError(w, apperror.ValidationFailed("nickname", "nickname is required"))
		return
	}

	if err := h.bootstrap.Verify(req.Password); err != nil {
		h.logger.Warn("promote: bootstrap verification failed",
			slog.String("nickname", req.Nickname),
		)
		writeError(w, apperror.Forbidden("invalid bootstrap password"))
		return
	}

	account, err := h.identity.Promote(r.Context(), req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}
