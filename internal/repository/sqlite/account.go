package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/model"
	"github.com/lokalhub/lokalhub/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, name, nickname, email, github, twitter,
	image_url, description, homepage_url, location, admin, created_at, updated_at`

// Create inserts a new account and its provider linkages in one transaction.
//
// Only the restricted validator runs here: handle shape is checked, email is
// not — a broken email is acceptable until an explicit SaveValidated.
// A nickname already claimed by another account surfaces as
// apperror.ErrConflict for the reconciler to re-evaluate.
func (db *DB) Create(ctx context.Context, account *model.Account) error {
	if err := account.CheckHandles(); err != nil {
		return err
	}

	now := time.Now()
	account.ID = xid.New().String()
	account.CreatedAt = now
	account.UpdatedAt = now

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning create tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, name, nickname, email, github, twitter,
			image_url, description, homepage_url, location, admin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Name,
		nicknameValue(account.Nickname),
		account.Email,
		account.GitHub,
		account.Twitter,
		account.Image,
		account.Description,
		account.URL,
		account.Location,
		account.Admin,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Nickname)
		}
		return fmt.Errorf("sqlite: inserting account %q: %w", account.Nickname, err)
	}

	for _, l := range account.Linkages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO account_providers (account_id, provider, uid) VALUES (?, ?, ?)`,
			account.ID, l.Provider, l.UID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("linkage", l.Provider+"/"+l.UID)
			}
			return fmt.Errorf("sqlite: inserting linkage %s/%s: %w", l.Provider, l.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing create: %w", err)
	}
	return nil
}

// Update overwrites the account's profile fields and syncs its linkage rows.
// Like Create, it runs the restricted validator only.
func (db *DB) Update(ctx context.Context, account *model.Account) error {
	if err := account.CheckHandles(); err != nil {
		return err
	}

	account.UpdatedAt = time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning update tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET name = ?, nickname = ?, email = ?, github = ?, twitter = ?,
			image_url = ?, description = ?, homepage_url = ?, location = ?, admin = ?, updated_at = ?
		 WHERE id = ?`,
		account.Name,
		nicknameValue(account.Nickname),
		account.Email,
		account.GitHub,
		account.Twitter,
		account.Image,
		account.Description,
		account.URL,
		account.Location,
		account.Admin,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Nickname)
		}
		return fmt.Errorf("sqlite: updating account %s: %w", account.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("account", account.ID)
	}

	for _, l := range account.Linkages {
		// A provider renumbering replaced the uid in memory; drop the
		// stale row before recording the current pair.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM account_providers WHERE account_id = ? AND provider = ? AND uid <> ?`,
			account.ID, l.Provider, l.UID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: pruning linkage %s: %w", l.Provider, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO account_providers (account_id, provider, uid) VALUES (?, ?, ?)
			 ON CONFLICT (provider, uid) DO NOTHING`,
			account.ID, l.Provider, l.UID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: upserting linkage %s/%s: %w", l.Provider, l.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing update: %w", err)
	}
	return nil
}

// SaveValidated is the explicit commit-with-validation operation: the strict
// validator runs first (email format included) and nothing is written when
// it fails.
func (db *DB) SaveValidated(ctx context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	return db.Update(ctx, account)
}

// GetByID retrieves an account by its internal ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Account, error) {
	account, err := db.queryAccount(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return account, nil
}

// FindByNickname does an exact, case-sensitive nickname match. An empty
// nickname never matches anything — empty is stored as NULL.
func (db *DB) FindByNickname(ctx context.Context, nickname string) (*model.Account, error) {
	if nickname == "" {
		return nil, apperror.NotFound("account", nickname)
	}
	account, err := db.queryAccount(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE nickname = ?`, nickname)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("account", nickname)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding account by nickname %q: %w", nickname, err)
	}
	return account, nil
}

// FindByLinkage resolves an account through the (provider, uid) index.
func (db *DB) FindByLinkage(ctx context.Context, provider, uid string) (*model.Account, error) {
	account, err := db.queryAccount(ctx,
		`SELECT accounts.id, accounts.name, accounts.nickname, accounts.email,
		 accounts.github, accounts.twitter, accounts.image_url, accounts.description,
		 accounts.homepage_url, accounts.location, accounts.admin, accounts.created_at,
		 accounts.updated_at FROM accounts
		 JOIN account_providers ON account_providers.account_id = accounts.id
		 WHERE account_providers.provider = ? AND account_providers.uid = ?`,
		provider, uid)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("account", provider+"/"+uid)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding account by linkage %s/%s: %w", provider, uid, err)
	}
	return account, nil
}

// List returns accounts ordered by nickname for the member directory.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY nickname`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account row: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating accounts: %w", err)
	}

	for i := range accounts {
		if err := db.loadLinkages(ctx, &accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// SetAdmin flips the admin flag.
func (db *DB) SetAdmin(ctx context.Context, id string, admin bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET admin = ?, updated_at = ? WHERE id = ?`,
		admin, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting admin on %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("account", id)
	}
	return nil
}

// queryAccount runs a single-row account query and loads the linkages.
// Returns sql.ErrNoRows unwrapped so callers can map it to their own
// not-found error.
func (db *DB) queryAccount(ctx context.Context, query string, args ...any) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx, query, args...)
	account, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if err := db.loadLinkages(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	var a model.Account
	var nickname sql.NullString
	err := s.Scan(
		&a.ID,
		&a.Name,
		&nickname,
		&a.Email,
		&a.GitHub,
		&a.Twitter,
		&a.Image,
		&a.Description,
		&a.URL,
		&a.Location,
		&a.Admin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Nickname = nickname.String
	return &a, nil
}

func (db *DB) loadLinkages(ctx context.Context, account *model.Account) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT provider, uid FROM account_providers WHERE account_id = ? ORDER BY provider`,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading linkages for %s: %w", account.ID, err)
	}
	defer rows.Close()

	account.Linkages = nil
	for rows.Next() {
		var l model.Linkage
		if err := rows.Scan(&l.Provider, &l.UID); err != nil {
			return fmt.Errorf("sqlite: scanning linkage: %w", err)
		}
		account.Linkages = append(account.Linkages, l)
	}
	return rows.Err()
}

// nicknameValue maps an empty nickname to NULL so the unique index never
// fires for it — empty nicknames never collide.
func nicknameValue(nickname string) any {
	if nickname == "" {
		return nil
	}
	return nickname
}
