package pallet

import (
	"errors"
	"fmt"
)

// ErrValidation is the root of every input validation failure.
var ErrValidation = errors.New("pallet: validation failed")

// ErrItemValidation marks validation failures on item physical fields.
var ErrItemValidation = fmt.Errorf("%w: item", ErrValidation)

// Domain rule violations. They are never retried.
var (
	ErrPalletClosed           = errors.New("pallet: pallet is closed")
	ErrAlreadyClosed          = errors.New("pallet: pallet already closed")
	ErrMissingPermanentNumber = errors.New("pallet: closing a temporary pallet requires a permanent number")
	ErrNotFound               = errors.New("pallet: not found")
	ErrInvalidDivision        = fmt.Errorf("%w: division has no permanent number format", ErrValidation)
	ErrSequenceExhausted      = errors.New("pallet: permanent sequence exhausted")
	ErrDuplicateItemNumber    = errors.New("pallet: item number already in use")
	ErrSamePallet             = errors.New("pallet: item already on target pallet")
)

// ValidationError carries the offending field and a human readable reason.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pallet: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation or ErrItemValidation.
func (e *ValidationError) Unwrap() error {
	if e.kind != nil {
		return e.kind
	}
	return ErrValidation
}

// FieldName reports the offending field.
func (e *ValidationError) FieldName() string { return e.Field }

func fieldError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func itemFieldError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, kind: ErrItemValidation}
}

// IsDomainError reports whether err is a business rule violation.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrPalletClosed, ErrAlreadyClosed, ErrMissingPermanentNumber, ErrNotFound,
		ErrSequenceExhausted, ErrDuplicateItemNumber, ErrSamePallet,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
