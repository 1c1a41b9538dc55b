package realtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event types sent to clients
const (
	EventConnectionEstablished = "connection_established"
	EventPong                  = "pong"
	EventNotification          = "notification"
	EventDashboardUpdate       = "dashboard_update"
	EventSubmissionCreated     = "submission_created"
	EventGradeUpdated          = "grade_updated"
	EventLeaderboardUpdate     = "leaderboard_update"
	EventStudentSubmission     = "student_submission"
	EventReviewRequest         = "review_request"
	EventGradeReceived         = "grade_received"
	EventFeedbackReceived      = "feedback_received"
	EventAchievementUnlocked   = "achievement_unlocked"
)

// Fixed group names
const (
	GroupDashboard   = "dashboard"
	GroupLeaderboard = "leaderboard"

	personalPrefix = "personal:"
	mentorPrefix   = "mentor:"
	studentPrefix  = "student:"
)

// Event is one message delivered to subscribers
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}

// PersonalGroup is the group every connection of accountID joins
func PersonalGroup(accountID int64) string {
	return personalPrefix + strconv.FormatInt(accountID, 10)
}

// MentorGroup names the topic group for a mentor
func MentorGroup(mentorID int64) string {
	return mentorPrefix + strconv.FormatInt(mentorID, 10)
}

// StudentGroup names the topic group for a student
func StudentGroup(studentID int64) string {
	return studentPrefix + strconv.FormatInt(studentID, 10)
}

// ValidateGroup checks that name is one of the fixed group shapes
func ValidateGroup(name string) error {
	switch name {
	case GroupDashboard, GroupLeaderboard:
		return nil
	}
	for _, prefix := range []string{personalPrefix, mentorPrefix, studentPrefix} {
		if id, ok := strings.CutPrefix(name, prefix); ok {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 && strconv.FormatInt(n, 10) == id {
				return nil
			}
			return fmt.Errorf("invalid id in group %q", name)
		}
	}
	return fmt.Errorf("unknown group %q", name)
}
