package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotifierHelpers(t *testing.T) {
	hub := NewHub(nil, nil)
	n := NewNotifier(hub, nil)
	ctx := context.Background()

	personal := hub.Subscribe("p", []string{PersonalGroup(5)}, 4)
	dashboard := hub.Subscribe("d", []string{GroupDashboard}, 4)
	mentor := hub.Subscribe("m", []string{MentorGroup(6)}, 4)
	student := hub.Subscribe("s", []string{StudentGroup(7)}, 4)
	board := hub.Subscribe("l", []string{GroupLeaderboard}, 4)

	n.NotifyUser(ctx, 5, map[string]string{"title": "New Grade"})
	n.NotifyDashboard(ctx, EventSubmissionCreated, map[string]int{"id": 1})
	n.NotifyMentor(ctx, 6, EventReviewRequest, nil)
	n.NotifyStudent(ctx, 7, EventGradeReceived, map[string]int{"score": 90})
	n.UpdateLeaderboard(ctx, []string{"ada", "grace"})

	expect := map[*Subscription]string{
		personal:  EventNotification,
		dashboard: EventSubmissionCreated,
		mentor:    EventReviewRequest,
		student:   EventGradeReceived,
		board:     EventLeaderboardUpdate,
	}
	for sub, eventType := range expect {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, eventType, ev.Type, sub.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", sub.ID)
		}
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, group string, ev Event) error {
	return context.DeadlineExceeded
}

func TestNotifierSwallowsErrors(t *testing.T) {
	n := NewNotifier(failingPublisher{}, nil)
	assert.NotPanics(t, func() {
		n.NotifyUser(context.Background(), 1, "x")
	})
}
