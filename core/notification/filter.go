package notification

import (
	"context"

	"github.com/pkg/errors"
)

var categories = map[Type]Category{
	TypeCoursePublished:      CategoryCourseUpdates,
	TypeLessonAdded:          CategoryCourseUpdates,
	TypeCourseAdded:          CategoryCourseUpdates,
	TypeMessageReceived:      CategoryNewMessages,
	TypeMeetingScheduled:     CategoryMeetingReminders,
	TypeForumReply:           CategoryForumNotifications,
	TypeAnnouncement:         CategoryForumNotifications,
	TypeAssignmentFeedback:   CategoryAchievementAlerts,
	TypeQuizGraded:           CategoryAchievementAlerts,
	TypeSubscriptionExpiring: CategoryReminderEmails,
	TypeSubscriptionRenewal:  CategoryReminderEmails,
}

// CategoryOf returns the preference category of typ, if it has one.
func CategoryOf(typ Type) (Category, bool) {
	c, ok := categories[typ]
	return c, ok
}

// PreferenceStore reads user notification settings. Users without settings are simply absent from the result.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userIDs []string) ([]Preference, error)
}

// Allows reports whether a user with preferences p accepts notifications of type typ.
// Only an explicit false excludes: on the mapped category flag or on the global email flag.
func (p Preference) Allows(typ Type) bool {
	if isFalse(p.EmailNotifications) {
		return false
	}
	if c, ok := CategoryOf(typ); ok {
		return !isFalse(p.Flag(c))
	}
	return true
}

func isFalse(b *bool) bool {
	return b != nil && !*b
}

// Filter returns the subset of userIDs accepting notifications of type typ, in input order.
func Filter(ctx context.Context, store PreferenceStore, userIDs []string, typ Type) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	prefs, err := store.GetPreferences(ctx, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "getting preferences")
	}
	byUser := make(map[string]Preference, len(prefs))
	for _, p := range prefs {
		byUser[p.UserID] = p
	}

	allowed := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := byUser[id]; ok && !p.Allows(typ) {
			continue
		}
		allowed = append(allowed, id)
	}
	return allowed, nil
}
