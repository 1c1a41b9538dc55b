package resolver

import (
	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/mapping"
	"github.com/platinummonkey/cohort/pkg/provisioner"
	"github.com/platinummonkey/cohort/pkg/verifier"
)

// State is the terminal result of a resolution
type State string

const (
	Anonymous State = "anonymous"
	Resolved  State = "resolved"
	Rejected  State = "rejected"
)

// Reason explains a Rejected outcome. The value is the stable wire code.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTokenExpired     Reason = "token_expired"
	ReasonTokenInvalid     Reason = "invalid_token"
	ReasonServiceError     Reason = "service_error"
	ReasonAccountDisabled  Reason = "account_disabled"
	ReasonResolutionFailed Reason = "resolution_failed"
)

// Detail is the human-readable message sent to clients
func (r Reason) Detail() string {
	switch r {
	case ReasonTokenExpired:
		return "Token expired"
	case ReasonTokenInvalid:
		return "Invalid token"
	case ReasonServiceError:
		return "Authentication service unavailable"
	case ReasonAccountDisabled:
		return "User account is disabled"
	case ReasonResolutionFailed:
		return "Unable to resolve user account"
	default:
		return ""
	}
}

// Outcome is the decision for one credential
type Outcome struct {
	State    State
	Reason   Reason
	Account  *accounts.Account
	Claims   *verifier.ExternalClaims
	Mapping  *mapping.IdentityMapping
	// Path is how the provider strategy obtained the account. Empty for
	// other strategies.
	Path     provisioner.Path
	Strategy string
}

// IsResolved reports whether a local account was bound
func (o Outcome) IsResolved() bool {
	return o.State == Resolved && o.Account != nil
}

func anonymous() Outcome {
	return Outcome{State: Anonymous}
}

func rejected(reason Reason) Outcome {
	return Outcome{State: Rejected, Reason: reason}
}
