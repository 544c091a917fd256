package notification

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

// Type is the closed set of notification kinds.
type Type string

const (
	TypeCoursePublished      Type = "course_published"
	TypeLessonAdded          Type = "lesson_added"
	TypeCourseAdded          Type = "course_added"
	TypeMessageReceived      Type = "message_received"
	TypeMeetingScheduled     Type = "meeting_scheduled"
	TypeForumReply           Type = "forum_reply"
	TypeAnnouncement         Type = "announcement"
	TypeAssignmentFeedback   Type = "assignment_feedback"
	TypeQuizGraded           Type = "quiz_graded"
	TypeSubscriptionExpiring Type = "subscription_expiring"
	TypeSubscriptionRenewal  Type = "subscription_renewal"
	TypeEnrollment           Type = "enrollment"
	TypeCertificateIssued    Type = "certificate_issued"
	TypeBookPurchased        Type = "book_purchased"
	TypePurchaseUpgraded     Type = "purchase_upgraded"
	TypeSystem               Type = "system"
)

var AllTypes = []Type{
	TypeCoursePublished, TypeLessonAdded, TypeCourseAdded, TypeMessageReceived, TypeMeetingScheduled,
	TypeForumReply, TypeAnnouncement, TypeAssignmentFeedback, TypeQuizGraded, TypeSubscriptionExpiring,
	TypeSubscriptionRenewal, TypeEnrollment, TypeCertificateIssued, TypeBookPurchased, TypePurchaseUpgraded,
	TypeSystem,
}

func (t Type) IsValid() bool {
	for _, typ := range AllTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// Category is a user-facing opt-out group of notification types.
type Category string

const (
	CategoryCourseUpdates      Category = "course_updates"
	CategoryNewMessages        Category = "new_messages"
	CategoryMeetingReminders   Category = "meeting_reminders"
	CategoryForumNotifications Category = "forum_notifications"
	CategoryAchievementAlerts  Category = "achievement_alerts"
	CategoryReminderEmails     Category = "reminder_emails"
)

type Notification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Type        Type       `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Link        string     `json:"link,omitempty"`
	RelatedID   string     `json:"relatedId,omitempty"`
	RelatedType string     `json:"relatedType,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"readAt"`
	CreatedAt   time.Time  `json:"createdAt"` // UTC
}

// Preference holds a user's opt-outs. A nil flag means "not set" and never excludes.
type Preference struct {
	UserID             string `json:"userId"`
	CourseUpdates      *bool  `json:"courseUpdates"`
	NewMessages        *bool  `json:"newMessages"`
	MeetingReminders   *bool  `json:"meetingReminders"`
	ForumNotifications *bool  `json:"forumNotifications"`
	AchievementAlerts  *bool  `json:"achievementAlerts"`
	ReminderEmails     *bool  `json:"reminderEmails"`
	EmailNotifications *bool  `json:"emailNotifications"`
}

// Flag returns the preference flag of category c.
func (p Preference) Flag(c Category) *bool {
	switch c {
	case CategoryCourseUpdates:
		return p.CourseUpdates
	case CategoryNewMessages:
		return p.NewMessages
	case CategoryMeetingReminders:
		return p.MeetingReminders
	case CategoryForumNotifications:
		return p.ForumNotifications
	case CategoryAchievementAlerts:
		return p.AchievementAlerts
	case CategoryReminderEmails:
		return p.ReminderEmails
	}
	return nil
}

// NewNotification is a dispatch request, addressed to UserID and/or UserIDs.
type NewNotification struct {
	UserID      string   `json:"userId" validate:"required_without=UserIDs"`
	UserIDs     []string `json:"userIds" validate:"required_without=UserID"`
	Type        Type     `json:"type" validate:"required,notiftype"`
	Title       string   `json:"title" validate:"required,notblank,max=200"`
	Message     string   `json:"message" validate:"required,notblank,max=2000"`
	Link        string   `json:"link" validate:"max=500"`
	RelatedID   string   `json:"relatedId"`
	RelatedType string   `json:"relatedType"`
}

func (nn *NewNotification) Validate(validate *validator.Validate) error {
	nn.UserID = core.CleanString(nn.UserID)
	if nn.UserIDs = core.CleanStrings(nn.UserIDs); len(nn.UserIDs) == 0 {
		nn.UserIDs = nil
	}
	nn.Type = Type(core.CleanString(string(nn.Type), true /* lower */))
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	nn.Link = core.CleanString(nn.Link)
	nn.RelatedID = core.CleanString(nn.RelatedID)
	nn.RelatedType = core.CleanString(nn.RelatedType)
	return validate.Struct(nn)
}

// Recipients returns the de-duplicated set of addressed users, in request order.
func (nn NewNotification) Recipients() []string {
	ids := make([]string, 0, len(nn.UserIDs)+1)
	if nn.UserID != "" {
		ids = append(ids, nn.UserID)
	}
	return core.CleanStrings(append(ids, nn.UserIDs...))
}

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type QueryFilter struct {
	Limit      int
	UnreadOnly bool
}

func (f QueryFilter) normalize() QueryFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}
