package records

import (
	"errors"
	"fmt"
)

var (
	ErrIntegrity = errors.New("integrity violation")
	ErrNotFound  = errors.New("not found")
)

// IntegrityError rejects an insert or delete that would break a key or
// reference rule. Nothing is applied when it is returned.
type IntegrityError struct {
	Kind   Kind
	ID     int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// NotFoundError is returned when a primary-key lookup matches no row.
type NotFoundError struct {
	Kind Kind
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func integrity(kind Kind, id int64, reason string) error {
	return &IntegrityError{Kind: kind, ID: id, Reason: reason}
}

func notFound(kind Kind, id int64) error {
	return &NotFoundError{Kind: kind, ID: id}
}
