package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsUniqueViolation reports whether err is a unique-constraint violation from
// either the postgres or sqlite backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// sqlite driver surfaces constraint failures as plain errors
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
