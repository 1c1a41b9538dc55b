package realtime

import (
	"context"
	"strings"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/resolver"
)

// tokenStrategy resolves "user-<n>" and "staff-<n>" style tokens from a table
type tokenStrategy map[string]resolver.Outcome

func (s tokenStrategy) Name() string { return "table" }

func (s tokenStrategy) Resolve(ctx context.Context, header string) resolver.Outcome {
	token, ok := resolver.ExtractBearer(header)
	if !ok {
		return resolver.Outcome{State: resolver.Anonymous}
	}
	if out, ok := s[token]; ok {
		return out
	}
	if strings.HasPrefix(token, "expired") {
		return resolver.Outcome{State: resolver.Rejected, Reason: resolver.ReasonTokenExpired}
	}
	return resolver.Outcome{State: resolver.Rejected, Reason: resolver.ReasonTokenInvalid}
}

func account(id int64, staff bool) resolver.Outcome {
	return resolver.Outcome{
		State:   resolver.Resolved,
		Account: &accounts.Account{ID: id, Username: "u", IsActive: true, IsStaff: staff},
	}
}

func testStrategy() tokenStrategy {
	return tokenStrategy{
		"alice": account(10, false),
		"bob":   account(11, false),
		"staff": account(1, true),
	}
}
