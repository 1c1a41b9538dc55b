package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/resolver"
)

// ErrTopicForbidden is returned when the account may not join the topic group
var ErrTopicForbidden = errors.New("topic access forbidden")

// AuthError is returned when the token does not resolve to an account.
// Reason is ReasonNone when no token was presented.
type AuthError struct {
	Reason resolver.Reason
}

func (e *AuthError) Error() string {
	if e.Reason == resolver.ReasonNone {
		return "realtime: not authenticated"
	}
	return "realtime: " + string(e.Reason)
}

// TopicKind selects the group a connection asks for
type TopicKind string

const (
	TopicNotifications TopicKind = "notifications"
	TopicDashboard     TopicKind = "dashboard"
	TopicLeaderboard   TopicKind = "leaderboard"
	TopicMentor        TopicKind = "mentor"
	TopicStudent       TopicKind = "student"
)

// Topic is the connection target. ID is used by mentor and student topics.
type Topic struct {
	Kind TopicKind
	ID   int64
}

// Group returns the topic's group, or "" for notifications which only use
// the personal group.
func (t Topic) Group() string {
	switch t.Kind {
	case TopicDashboard:
		return GroupDashboard
	case TopicLeaderboard:
		return GroupLeaderboard
	case TopicMentor:
		return MentorGroup(t.ID)
	case TopicStudent:
		return StudentGroup(t.ID)
	default:
		return ""
	}
}

// Grant is a successful authorization
type Grant struct {
	Account *accounts.Account
	Groups  []string
}

// Authorizer resolves connection tokens and computes group memberships.
// Anonymous is never accepted.
type Authorizer struct {
	strategy resolver.Strategy
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthorizer creates an authorizer over strategy
func NewAuthorizer(strategy resolver.Strategy, logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authorizer{
		strategy: strategy,
		logger:   logger.WithComponent("realtime_authorizer"),
		metrics:  metrics,
	}
}

// Authorize resolves token and checks access to topic
func (a *Authorizer) Authorize(ctx context.Context, token string, topic Topic) (*Grant, error) {
	header := ""
	if token != "" {
		header = "Bearer " + token
	}

	out := a.strategy.Resolve(ctx, header)
	if !out.IsResolved() {
		a.metrics.RecordRealtimeRejection(rejectionLabel(out.Reason))
		return nil, &AuthError{Reason: out.Reason}
	}

	account := out.Account
	groups := []string{PersonalGroup(account.ID)}

	switch topic.Kind {
	case TopicNotifications:
	case TopicDashboard, TopicLeaderboard:
		groups = append(groups, topic.Group())
	case TopicMentor, TopicStudent:
		if topic.ID != account.ID && !account.IsStaff {
			a.metrics.RecordRealtimeRejection("forbidden")
			observability.FromContext(ctx, a.logger).WithFields(map[string]interface{}{
				"account_id": account.ID,
				"topic":      topic.Group(),
			}).Warn("topic access denied")
			return nil, ErrTopicForbidden
		}
		groups = append(groups, topic.Group())
	default:
		return nil, fmt.Errorf("%w: unknown topic %q", ErrTopicForbidden, topic.Kind)
	}

	return &Grant{Account: account, Groups: groups}, nil
}

func rejectionLabel(reason resolver.Reason) string {
	if reason == resolver.ReasonNone {
		return "not_authenticated"
	}
	return string(reason)
}
