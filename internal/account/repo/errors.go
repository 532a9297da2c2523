package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	ErrNotFound       = errors.New("repo: account not found")
	ErrDuplicateEmail = errors.New("repo: email already used by a live account")
	// ErrDeleted is returned when an update targets an account already in the deleted state.
	ErrDeleted = errors.New("repo: account is deleted")
	// ErrConflict is returned when an update carries a version older than the stored row.
	ErrConflict = errors.New("repo: account was modified concurrently")
)

const sqlStateUniqueViolation = "23505"

// isUniqueViolation recognizes unique-constraint failures from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == sqlStateUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation
	}
	return false
}
