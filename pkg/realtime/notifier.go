package realtime

import (
	"context"
	"time"

	"github.com/platinummonkey/cohort/pkg/async"
	"github.com/platinummonkey/cohort/pkg/observability"
)

const publishTimeout = 5 * time.Second

// Notifier is the broadcast API for application code. Every helper is
// fire-and-forget: failures are logged, never returned.
type Notifier struct {
	pub    Publisher
	logger *observability.Logger
}

// NewNotifier creates a notifier over pub (a Hub or a RedisRelay)
func NewNotifier(pub Publisher, logger *observability.Logger) *Notifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Notifier{pub: pub, logger: logger.WithComponent("realtime_notifier")}
}

// NotifyUser sends a notification to every connection of accountID
func (n *Notifier) NotifyUser(ctx context.Context, accountID int64, notification interface{}) {
	n.send(ctx, PersonalGroup(accountID), NewEvent(EventNotification, notification))
}

// NotifyDashboard broadcasts to dashboard viewers
func (n *Notifier) NotifyDashboard(ctx context.Context, eventType string, data interface{}) {
	n.send(ctx, GroupDashboard, NewEvent(eventType, data))
}

// NotifyMentor sends to a mentor's topic group
func (n *Notifier) NotifyMentor(ctx context.Context, mentorID int64, eventType string, data interface{}) {
	n.send(ctx, MentorGroup(mentorID), NewEvent(eventType, data))
}

// NotifyStudent sends to a student's topic group
func (n *Notifier) NotifyStudent(ctx context.Context, studentID int64, eventType string, data interface{}) {
	n.send(ctx, StudentGroup(studentID), NewEvent(eventType, data))
}

// UpdateLeaderboard broadcasts new standings
func (n *Notifier) UpdateLeaderboard(ctx context.Context, leaderboard interface{}) {
	n.send(ctx, GroupLeaderboard, NewEvent(EventLeaderboardUpdate, leaderboard))
}

func (n *Notifier) send(ctx context.Context, group string, ev Event) {
	async.SafeGo(ctx, n.logger, publishTimeout, "realtime publish "+group, func(ctx context.Context) error {
		return n.pub.Publish(ctx, group, ev)
	})
}
