package errorx

import (
	"errors"
	"fmt"
)

// GENERAL ERROR:

// GeneralError - General App Error.
type GeneralError struct {
	message string
	err     error
}

// NewGeneralError - GeneralError constructor.
func NewGeneralError(msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewGeneralErrorWrapper - GeneralError constructor for wrapper of another error.
func NewGeneralErrorWrapper(err error, msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *GeneralError) Error() string {
	if ge.err != nil {
		return fmt.Sprintf("%s # Error wrap: %s", ge.message, ge.err.Error())
	}

	return ge.message
}

// Unwrap - return the wrapped error.
func (ge *GeneralError) Unwrap() error {
	return ge.err
}

// DATABASE ERROR

// DatabaseError - error raised by a store adapter.
type DatabaseError struct {
	message string
	err     error
}

// NewDatabaseError - DatabaseError constructor.
func NewDatabaseError(msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewDatabaseErrorWrapper - DatabaseError constructor for wrapper of another error.
func NewDatabaseErrorWrapper(err error, msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (de *DatabaseError) Error() string {
	if de.err != nil {
		return fmt.Sprintf("%s: %s", de.message, de.err.Error())
	}

	return de.message
}

// Unwrap - return the wrapped error.
func (de *DatabaseError) Unwrap() error {
	return de.err
}

// ENTITY NOT FOUND

// EntityNotFoundError - the root of a transaction context could not be resolved.
type EntityNotFoundError struct {
	Entity string
	Keys   any
}

// NewEntityNotFoundError - EntityNotFoundError constructor.
func NewEntityNotFoundError(entity string, keys any) *EntityNotFoundError {
	return &EntityNotFoundError{Entity: entity, Keys: keys}
}

// Error - return the error string.
func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s doesn't exist for keys: %v", e.Entity, e.Keys)
}

// VALIDATION FAILED

// ValidationFailedError - a precondition on the root entity was rejected.
type ValidationFailedError struct {
	message string
	err     error
}

// NewValidationFailedError - ValidationFailedError constructor.
func NewValidationFailedError(msg string, args ...any) *ValidationFailedError {
	return &ValidationFailedError{message: fmt.Sprintf(msg, args...)}
}

// NewValidationFailedErrorWrapper - ValidationFailedError carrying the caller supplied failure.
func NewValidationFailedErrorWrapper(err error, msg string, args ...any) *ValidationFailedError {
	return &ValidationFailedError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (e *ValidationFailedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err.Error())
	}

	return e.message
}

// Unwrap - return the caller supplied failure, if any.
func (e *ValidationFailedError) Unwrap() error {
	return e.err
}

// CHAINED UPDATE FAILED

// ChainedUpdateFailedError - a chained update did not apply.
type ChainedUpdateFailedError struct {
	Affected int64
	message  string
}

// NewChainedUpdateFailedError - ChainedUpdateFailedError constructor.
func NewChainedUpdateFailedError(affected int64, msg string, args ...any) *ChainedUpdateFailedError {
	return &ChainedUpdateFailedError{Affected: affected, message: fmt.Sprintf(msg, args...)}
}

// Error - return the error string.
func (e *ChainedUpdateFailedError) Error() string {
	return fmt.Sprintf("%s (affected rows: %d)", e.message, e.Affected)
}

// CONSTRAINT VIOLATION

// ConstraintViolationError - uniqueness or integrity violation reported by the store.
// The store is expected to have aborted the transaction already.
type ConstraintViolationError struct {
	Constraint string
	message    string
	err        error
}

// NewConstraintViolationError - ConstraintViolationError constructor.
func NewConstraintViolationError(constraint string, msg string, args ...any) *ConstraintViolationError {
	return &ConstraintViolationError{Constraint: constraint, message: fmt.Sprintf(msg, args...)}
}

// NewConstraintViolationErrorWrapper - ConstraintViolationError wrapping the store error.
func NewConstraintViolationErrorWrapper(err error, constraint string, msg string, args ...any) *ConstraintViolationError {
	return &ConstraintViolationError{Constraint: constraint, message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (e *ConstraintViolationError) Error() string {
	msg := e.message
	if e.Constraint != "" {
		msg = fmt.Sprintf("%s [constraint=%s]", msg, e.Constraint)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %s", msg, e.err.Error())
	}

	return msg
}

// Unwrap - return the store error.
func (e *ConstraintViolationError) Unwrap() error {
	return e.err
}

// STORE OPERATION FAILED

// StoreOperationFailedError - catch-all for store layer failures, carrying the original cause.
type StoreOperationFailedError struct {
	message string
	err     error
}

// NewStoreOperationFailedErrorWrapper - StoreOperationFailedError constructor.
func NewStoreOperationFailedErrorWrapper(err error, msg string, args ...any) *StoreOperationFailedError {
	return &StoreOperationFailedError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (e *StoreOperationFailedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err.Error())
	}

	return e.message
}

// Unwrap - return the original cause.
func (e *StoreOperationFailedError) Unwrap() error {
	return e.err
}

// STEP FAILED

// StepFailedError - a pipeline step of a transaction context failed.
// Index is the zero based position of the step, Kind its operation kind.
type StepFailedError struct {
	Index int
	Kind  string
	err   error
}

// NewStepFailedError - StepFailedError constructor.
func NewStepFailedError(index int, kind string, err error) *StepFailedError {
	return &StepFailedError{Index: index, Kind: kind, err: err}
}

// Error - return the error string.
func (e *StepFailedError) Error() string {
	return fmt.Sprintf("pipeline step #%d (%s) failed: %v", e.Index, e.Kind, e.err)
}

// Unwrap - return the step failure.
func (e *StepFailedError) Unwrap() error {
	return e.err
}

// HELPERS

// IsEntityNotFound reports whether err carries an EntityNotFoundError.
func IsEntityNotFound(err error) bool {
	var target *EntityNotFoundError
	return errors.As(err, &target)
}

// IsValidationFailed reports whether err carries a ValidationFailedError.
func IsValidationFailed(err error) bool {
	var target *ValidationFailedError
	return errors.As(err, &target)
}

// IsChainedUpdateFailed reports whether err carries a ChainedUpdateFailedError.
func IsChainedUpdateFailed(err error) bool {
	var target *ChainedUpdateFailedError
	return errors.As(err, &target)
}

// IsConstraintViolation reports whether err carries a ConstraintViolationError.
func IsConstraintViolation(err error) bool {
	var target *ConstraintViolationError
	return errors.As(err, &target)
}

// IsStoreOperationFailed reports whether err carries a StoreOperationFailedError.
func IsStoreOperationFailed(err error) bool {
	var target *StoreOperationFailedError
	return errors.As(err, &target)
}

// IsClassified reports whether err already belongs to the data access taxonomy,
// in which case it must reach the caller without further wrapping.
func IsClassified(err error) bool {
	if err == nil {
		return false
	}

	var step *StepFailedError

	return IsEntityNotFound(err) ||
		IsValidationFailed(err) ||
		IsChainedUpdateFailed(err) ||
		IsConstraintViolation(err) ||
		IsStoreOperationFailed(err) ||
		errors.As(err, &step)
}
