// Package service — identity reconciliation business logic.
//
// IdentityService sits between the HTTP handlers and the account repository:
//
//	AuthHandler (HTTP) → IdentityService (reconciliation) → AccountRepository (DB)
//
// Its job is the hard part of a federated login: given one canonical profile
// from some provider, decide whether this is a new member, a returning
// member, or a nickname collision between two different people — and never
// let two accounts end up with the same nickname.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/model"
	"github.com/lokalhub/lokalhub/internal/provider"
	"github.com/lokalhub/lokalhub/internal/repository"
)

// IdentityService reconciles provider authentications into accounts.
type IdentityService struct {
	accounts repository.AccountRepository
	logger   *slog.Logger
}

// NewIdentityService creates an IdentityService with all required dependencies.
func NewIdentityService(accounts repository.AccountRepository, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		accounts: accounts,
		logger:   logger,
	}
}

// Authenticate normalizes a raw provider payload and reconciles it into an
// account. This is what the OAuth callback handler calls.
func (s *IdentityService) Authenticate(ctx context.Context, payload provider.Payload) (*model.Account, error) {
	prof, err := provider.Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("service/identity: %w", err)
	}
	return s.FindOrCreate(ctx, prof)
}

// FindOrCreate resolves a canonical profile to exactly one account.
//
// Resolution order:
//
//  1. (provider, uid) linkage — a returning login, regardless of nickname.
//  2. Nickname. An owner already linked to this provider is the same
//     identity (prior linkage is definitive, even when the provider-side
//     uid changed). An owner with no linkage to this provider is a
//     different person: DuplicateNickname, nothing mutated.
//  3. Nobody owns the nickname: create, with the linkage registered and
//     admin off.
//
// The nickname check is advisory — the unique index in the store decides
// races. When a concurrent create wins between our lookup and our insert,
// the conflict comes back from the store and we re-evaluate from step 2
// exactly once; the rerun then either updates the winner's account (same
// provider) or raises DuplicateNickname (different provider).
func (s *IdentityService) FindOrCreate(ctx context.Context, prof provider.Profile) (*model.Account, error) {
	account, err := s.accounts.FindByLinkage(ctx, prof.Provider, prof.UID)
	if err == nil {
		return s.UpdateFromAuth(ctx, account, prof)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/identity: linkage lookup %s/%s: %w", prof.Provider, prof.UID, err)
	}

	for attempt := 0; ; attempt++ {
		// An empty nickname never collides with anything, so the lookup
		// is skipped and every empty-nickname signup gets its own account.
		if prof.Nickname != "" {
			account, err := s.accounts.FindByNickname(ctx, prof.Nickname)
			switch {
			case err == nil:
				if !account.LinkedTo(prof.Provider) {
					s.logger.Warn("nickname collision across providers",
						slog.String("nickname", prof.Nickname),
						slog.String("provider", prof.Provider),
						slog.String("accountID", account.ID),
					)
					return nil, apperror.DuplicateNickname(prof.Nickname, prof.Provider)
				}
				return s.UpdateFromAuth(ctx, account, prof)
			case !errors.Is(err, apperror.ErrNotFound):
				return nil, fmt.Errorf("service/identity: nickname lookup %q: %w", prof.Nickname, err)
			}
		}

		account := &model.Account{Nickname: prof.Nickname}
		account.ApplyProfile(prof)

		err := s.accounts.Create(ctx, account)
		if err == nil {
			s.logger.Info("account created",
				slog.String("accountID", account.ID),
				slog.String("nickname", account.Nickname),
				slog.String("provider", prof.Provider),
			)
			return account, nil
		}
		// Lost a create race: someone claimed the nickname between our
		// lookup and our insert. One retry re-runs the nickname
		// evaluation against the winner.
		if errors.Is(err, apperror.ErrConflict) && attempt == 0 {
			continue
		}
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.DuplicateNickname(prof.Nickname, prof.Provider)
		}
		return nil, fmt.Errorf("service/identity: creating account %q: %w", prof.Nickname, err)
	}
}

// UpdateFromAuth performs the update path on an already-resolved account:
// full profile overwrite (email merges instead — an empty profile email
// keeps the stored one), linkage confirmed, persisted. Idempotent: calling
// it twice with the same profile leaves the same state.
func (s *IdentityService) UpdateFromAuth(ctx context.Context, account *model.Account, prof provider.Profile) (*model.Account, error) {
	account.ApplyProfile(prof)

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("service/identity: updating account %s: %w", account.ID, err)
	}

	s.logger.Info("account updated from auth",
		slog.String("accountID", account.ID),
		slog.String("nickname", account.Nickname),
		slog.String("provider", prof.Provider),
	)
	return account, nil
}

// GetByID returns the account for the given internal ID.
// Used by the /api/me handler after the middleware validates the session.
func (s *IdentityService) GetByID(ctx context.Context, id string) (*model.Account, error) {
	if id == "" {
		return nil, fmt.Errorf("service/identity: account ID must not be empty")
	}
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching account %s: %w", id, err)
	}
	return account, nil
}

// List returns the member directory.
func (s *IdentityService) List(ctx context.Context, opts repository.ListOptions) ([]model.Account, error) {
	accounts, err := s.accounts.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/identity: listing accounts: %w", err)
	}
	return accounts, nil
}

// Promote sets the admin flag on the account owning the given nickname.
// Guarded by the bootstrap credential at the handler layer.
func (s *IdentityService) Promote(ctx context.Context, nickname string) (*model.Account, error) {
	account, err := s.accounts.FindByNickname(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("service/identity: promoting %q: %w", nickname, err)
	}
	if err := s.accounts.SetAdmin(ctx, account.ID, true); err != nil {
		return nil, fmt.Errorf("service/identity: promoting %q: %w", nickname, err)
	}
	account.Admin = true

	s.logger.Info("account promoted to admin",
		slog.String("accountID", account.ID),
		slog.String("nickname", account.Nickname),
	)
	return account, nil
}
