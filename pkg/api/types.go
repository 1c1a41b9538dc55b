package api

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/mapping"
)

// ExternalIdentity is the verified provider identity of the caller
type ExternalIdentity struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MeResponse is returned by GET /api/auth/me
type MeResponse struct {
	Account  *accounts.Account        `json:"account"`
	Mapping  *mapping.IdentityMapping `json:"mapping"`
	External *ExternalIdentity        `json:"external,omitempty"`
	Strategy string                   `json:"strategy"`
}

// SessionResponse is returned by GET /api/session
type SessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	Account       *accounts.Account `json:"account,omitempty"`
	// Reason is the rejection code when a credential was presented but not
	// accepted.
	Reason string `json:"reason,omitempty"`
}

// PublishRequest is the body of POST /api/realtime/publish
type PublishRequest struct {
	Group string          `json:"group"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PublishResponse acknowledges an accepted broadcast
type PublishResponse struct {
	Status string `json:"status"`
	Group  string `json:"group"`
}

// MappingListResponse is a page of identity mappings
type MappingListResponse struct {
	Mappings []*mapping.IdentityMapping `json:"mappings"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}
