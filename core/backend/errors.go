package backend

import (
	"errors"

	"github.com/lib/pq"
)

// the errors surfaced by the entity stores. Anything else is an unexpected
// storage error and propagates unmodified.
var (
	// ErrNotFound is returned when the target row does not exist
	ErrNotFound = errors.New("no such entity")
	// ErrEmptyPatch is returned when a partial update contains no fields
	ErrEmptyPatch = errors.New("empty update")
	// ErrDuplicateUsername is returned when a username is already taken
	ErrDuplicateUsername = errors.New("username is taken")
	// ErrInvalidLogin is returned when username or password are wrong.
	// The two cases are deliberately indistinguishable.
	ErrInvalidLogin = errors.New("invalid username/password")
)

// uniqueViolation is the postgres error code for unique constraint violations
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
