package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError reports a request or configuration the caller must fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity scoped to a business.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", e.Entity, e.ID)
}

func NewNotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports an operation that is illegal in the entity's current state.
type ConflictError struct {
	Entity string
	ID     any
	State  string
	Op     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s %v while %s", e.Op, e.Entity, e.ID, e.State)
}

func NewConflict(entity string, id any, state, op string) error {
	return &ConflictError{Entity: entity, ID: id, State: state, Op: op}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
