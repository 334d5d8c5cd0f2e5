package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInsufficientBalance is returned when a conditional debit matches no row.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStateChanged is returned when a compare-and-set on a record's state
	// matches no row because a concurrent request changed it first.
	ErrStateChanged = errors.New("record state changed")
)

const uniqueViolation = "23505"

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
