package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func errNotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, sql.ErrNoRows)
}
