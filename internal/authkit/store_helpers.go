package authkit

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolationCode = "23505"

func newRecordID() string {
	return uuid.NewString()
}

// IsUniqueViolation reports whether err comes from a unique constraint rejecting a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUniqueViolation) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		return true
	}
	// sqlite reports constraint failures only through the message text
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
