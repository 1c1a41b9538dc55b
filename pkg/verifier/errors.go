package verifier

import (
	"errors"
	"fmt"
)

// Kind classifies a verification failure
type Kind int

const (
	Malformed Kind = iota + 1
	Expired
	InvalidSignatureOrClaims
	ProviderUnavailable
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Expired:
		return "expired"
	case InvalidSignatureOrClaims:
		return "invalid"
	case ProviderUnavailable:
		return "provider_unavailable"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformed is matched by errors.Is for Malformed failures
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is matched by errors.Is for Expired failures
	ErrExpired = errors.New("token expired")
	// ErrInvalid is matched by errors.Is for InvalidSignatureOrClaims failures
	ErrInvalid = errors.New("invalid token signature or claims")
	// ErrProviderUnavailable is matched by errors.Is for ProviderUnavailable failures
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

func (k Kind) sentinel() error {
	switch k {
	case Malformed:
		return ErrMalformed
	case Expired:
		return ErrExpired
	case InvalidSignatureOrClaims:
		return ErrInvalid
	case ProviderUnavailable:
		return ErrProviderUnavailable
	}
	return nil
}

// Error is returned by every Verifier
type Error struct {
	Kind Kind
	Err  error
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

// KindOf returns the failure kind of err, or 0 when err is not a verification error.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return 0
}
