package provisioner

import (
	"errors"
	"fmt"
)

// Kind classifies a provisioning failure
type Kind int

const (
	MissingEmail Kind = iota + 1
	AccountCreationFailed
	MappingCreationFailed
	MappingConflict
	AccountDisabled
	LookupFailed
)

func (k Kind) String() string {
	switch k {
	case MissingEmail:
		return "missing_email"
	case AccountCreationFailed:
		return "account_creation_failed"
	case MappingCreationFailed:
		return "mapping_creation_failed"
	case MappingConflict:
		return "mapping_conflict"
	case AccountDisabled:
		return "account_disabled"
	case LookupFailed:
		return "lookup_failed"
	default:
		return "unknown"
	}
}

var (
	ErrMissingEmail          = errors.New("external identity has no email")
	ErrAccountCreationFailed = errors.New("failed to create local account")
	ErrMappingCreationFailed = errors.New("failed to create identity mapping")
	ErrMappingConflict       = errors.New("local account is linked to another external identity")
	ErrAccountDisabled       = errors.New("local account is disabled")
	ErrLookupFailed          = errors.New("account lookup failed")
)

func (k Kind) sentinel() error {
	switch k {
	case MissingEmail:
		return ErrMissingEmail
	case AccountCreationFailed:
		return ErrAccountCreationFailed
	case MappingCreationFailed:
		return ErrMappingCreationFailed
	case MappingConflict:
		return ErrMappingConflict
	case AccountDisabled:
		return ErrAccountDisabled
	case LookupFailed:
		return ErrLookupFailed
	}
	return nil
}

// Error is returned by ResolveOrCreateAccount
type Error struct {
	Kind Kind
	Err  error

	// retry marks failures caused by a concurrent writer
	retry bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func retryable(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err, retry: true}
}

// KindOf returns the failure kind of err, or 0 when err is not a provisioning error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
