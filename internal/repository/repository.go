package repository

import (
	"context"

	"github.com/lokalhub/lokalhub/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// AccountRepository is the storage collaborator of the identity reconciler.
//
// The store owns the uniqueness guarantee: a UNIQUE index on nickname backs
// the reconciler's check-then-create, which is advisory on its own. Create
// and Update run the restricted (handle-shape) validator; SaveValidated is
// the explicit commit-with-validation operation that additionally enforces
// email format.
type AccountRepository interface {
	// Create inserts a new account together with its provider linkages in
	// one transaction. Returns apperror.ErrConflict when the nickname
	// unique index fires.
	Create(ctx context.Context, account *model.Account) error

	// Update overwrites the profile fields and upserts the linkage rows.
	// Like Create it accepts any email value.
	Update(ctx context.Context, account *model.Account) error

	// SaveValidated runs the strict validator (including email format)
	// before persisting. Returns apperror.ErrValidation on failure, with
	// no write performed.
	SaveValidated(ctx context.Context, account *model.Account) error

	GetByID(ctx context.Context, id string) (*model.Account, error)

	// FindByNickname does an exact, case-sensitive match.
	// Returns apperror.ErrNotFound when no account owns the nickname.
	FindByNickname(ctx context.Context, nickname string) (*model.Account, error)

	// FindByLinkage resolves an account through the (provider, uid)
	// secondary index.
	FindByLinkage(ctx context.Context, provider, uid string) (*model.Account, error)

	// List returns accounts ordered by nickname, for the member directory.
	List(ctx context.Context, opts ListOptions) ([]model.Account, error)

	// SetAdmin flips the admin flag on an existing account.
	SetAdmin(ctx context.Context, id string, admin bool) error
}
