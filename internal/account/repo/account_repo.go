package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

// NOTE: schema lives in pkg/database/migrations. Email uniqueness for live
// accounts is enforced by the partial index idx_accounts_email_live.

const accountColumns = `id, email, credential_hash, credential_algo, status, created_at, last_modified, version`

// AccountRepo provides data access for the accounts table using sqlx.
type AccountRepo struct {
	db  *sqlx.DB
	ids func() string
}

// NewAccountRepo builds a repo. ids may be nil, in which case the process-wide
// snowflake generator is used.
func NewAccountRepo(db *sqlx.DB, ids func() string) *AccountRepo {
	if ids == nil {
		ids = utilities.NewSnowflakeID
	}
	return &AccountRepo{db: db, ids: ids}
}

// Get fetches an account by id or returns ErrNotFound.
func (r *AccountRepo) Get(ctx context.Context, id string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// GetByEmail prefers the live account holding email; otherwise the most
// recently created deleted one.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1
		ORDER BY (status = 'deleted'), created_at DESC LIMIT 1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &a, nil
}

// ExistsByEmail reports whether a live account holds email.
func (r *AccountRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE email=$1 AND status <> 'deleted')`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, email); err != nil {
		return false, fmt.Errorf("exists by email: %w", err)
	}
	return ok, nil
}

// Save inserts when a.ID is empty (assigning a new id) and updates otherwise.
// Updates never touch rows already in the deleted state, and only apply when
// a.Version still matches the stored row; a successful update bumps it.
func (r *AccountRepo) Save(ctx context.Context, a *entity.Account) error {
	if a.ID == "" {
		return r.insert(ctx, a)
	}
	return r.update(ctx, a)
}

func (r *AccountRepo) insert(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (` + accountColumns + `)
		VALUES (:id, :email, :credential_hash, :credential_algo, :status, :created_at, :last_modified, :version)`
	a.ID = r.ids()
	if _, err := r.db.NamedExecContext(ctx, q, a); err != nil {
		a.ID = ""
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *AccountRepo) update(ctx context.Context, a *entity.Account) error {
	const q = `UPDATE accounts SET email=:email, credential_hash=:credential_hash,
		credential_algo=:credential_algo, status=:status, last_modified=:last_modified,
		version=version+1
		WHERE id=:id AND version=:version AND status <> 'deleted'`
	res, err := r.db.NamedExecContext(ctx, q, a)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n > 0 {
		a.Version++
		return nil
	}
	// nothing updated; tell a missing or deleted row apart from a stale version
	var status string
	err = r.db.GetContext(ctx, &status, `SELECT status FROM accounts WHERE id=$1`, a.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update account: %w", err)
	}
	if status == string(entity.StatusDeleted) {
		return ErrDeleted
	}
	return ErrConflict
}

// ListByStatus returns accounts in the given status.
func (r *AccountRepo) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE status=$1`
	out := []entity.Account{}
	if err := r.db.SelectContext(ctx, &out, q, status); err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return out, nil
}

// ListByStatuses returns accounts whose status is in statuses.
func (r *AccountRepo) ListByStatuses(ctx context.Context, statuses []entity.Status) ([]entity.Account, error) {
	out := []entity.Account{}
	if len(statuses) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT `+accountColumns+` FROM accounts WHERE status IN (?)`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list by statuses: %w", err)
	}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list by statuses: %w", err)
	}
	return out, nil
}

// ListCreatedAfter returns accounts created strictly after since, optionally
// restricted to one status.
func (r *AccountRepo) ListCreatedAfter(ctx context.Context, since time.Time, status *entity.Status) ([]entity.Account, error) {
	out := []entity.Account{}
	var err error
	if status == nil {
		const q = `SELECT ` + accountColumns + ` FROM accounts WHERE created_at > $1`
		err = r.db.SelectContext(ctx, &out, q, since)
	} else {
		const q = `SELECT ` + accountColumns + ` FROM accounts WHERE created_at > $1 AND status=$2`
		err = r.db.SelectContext(ctx, &out, q, since, *status)
	}
	if err != nil {
		return nil, fmt.Errorf("list created after: %w", err)
	}
	return out, nil
}

// ListAll returns every stored account, deleted ones included.
func (r *AccountRepo) ListAll(ctx context.Context) ([]entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts`
	out := []entity.Account{}
	if err := r.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	return out, nil
}

// CountByStatus counts accounts in the given status.
func (r *AccountRepo) CountByStatus(ctx context.Context, status entity.Status) (int64, error) {
	const q = `SELECT COUNT(1) FROM accounts WHERE status=$1`
	var n int64
	if err := r.db.GetContext(ctx, &n, q, status); err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}
