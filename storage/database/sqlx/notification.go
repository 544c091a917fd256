package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
)

type notificationRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	Type        string         `db:"type"`
	Title       string         `db:"title"`
	Message     string         `db:"message"`
	Link        sql.NullString `db:"link"`
	RelatedID   sql.NullString `db:"related_id"`
	RelatedType sql.NullString `db:"related_type"`
	Read        bool           `db:"read"`
	ReadAt      sql.NullTime   `db:"read_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r notificationRow) toNotification() notification.Notification {
	n := notification.Notification{
		ID:          r.ID,
		UserID:      r.UserID,
		Type:        notification.Type(r.Type),
		Title:       r.Title,
		Message:     r.Message,
		Link:        r.Link.String,
		RelatedID:   r.RelatedID.String,
		RelatedType: r.RelatedType.String,
		Read:        r.Read,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		at := r.ReadAt.Time.UTC()
		n.ReadAt = &at
	}
	return n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const notificationColumns = "id, user_id, type, title, message, link, related_id, related_type, read, read_at, created_at"

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

const (
	notificationColumnCount = 11
	// postgres caps a statement at 65535 bind parameters
	maxBindParams = 65535
)

var notificationBatchSize = maxBindParams / notificationColumnCount

// CreateNotifications writes every row in one transaction, with one multi-row INSERT per batch.
func (repo *notificationRepository) CreateNotifications(ctx context.Context, notifs []notification.Notification) ([]notification.Notification, error) {
	if len(notifs) == 0 {
		return []notification.Notification{}, nil
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback() // no-op once committed

	created := make([]notification.Notification, 0, len(notifs))
	for start := 0; start < len(notifs); start += notificationBatchSize {
		end := start + notificationBatchSize
		if end > len(notifs) {
			end = len(notifs)
		}
		batch, err := insertNotifications(ctx, tx, notifs[start:end])
		if err != nil {
			return nil, err
		}
		created = append(created, batch...)
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing notifications")
	}
	return created, nil
}

func insertNotifications(ctx context.Context, tx *sqlx.Tx, notifs []notification.Notification) ([]notification.Notification, error) {
	values := make([]string, 0, len(notifs))
	args := make([]interface{}, 0, len(notifs)*notificationColumnCount)
	created := make([]notification.Notification, 0, len(notifs))
	for i, n := range notifs {
		n.ID = uuid.New().String()
		ph := make([]string, notificationColumnCount)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*notificationColumnCount+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			n.ID, n.UserID, string(n.Type), n.Title, n.Message,
			nullString(n.Link), nullString(n.RelatedID), nullString(n.RelatedType),
			n.Read, n.ReadAt, n.CreatedAt,
		)
		created = append(created, n)
	}

	q := "INSERT INTO notifications (" + notificationColumns + ") VALUES " + strings.Join(values, ", ")
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, errors.Wrap(err, "inserting notifications")
	}
	return created, nil
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, userID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	q := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = $1"
	if filter.UnreadOnly {
		q += " AND NOT read"
	}
	q += " ORDER BY " + core.DBOrdering{Field: "created_at"}.String() + " LIMIT $2"

	var rows []notificationRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID, filter.Limit); err != nil {
		return nil, errors.Wrap(err, "selecting notifications")
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		notifs = append(notifs, r.toNotification())
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read", userID)
	return count, errors.Wrap(err, "counting unread notifications")
}

func (repo *notificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.ErrNotFound
	}
	// COALESCE keeps the first read time on repeated calls
	res, err := repo.db.ExecContext(ctx,
		"UPDATE notifications SET read = true, read_at = COALESCE(read_at, $1) WHERE id = $2 AND user_id = $3",
		at, id, userID,
	)
	return affectedOne(res, err, "marking notification read")
}

func (repo *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) error {
	_, err := repo.db.ExecContext(ctx,
		"UPDATE notifications SET read = true, read_at = $1 WHERE user_id = $2 AND NOT read", at, userID)
	return errors.Wrap(err, "marking notifications read")
}

func (repo *notificationRepository) DeleteNotification(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = $1 AND user_id = $2", id, userID)
	return affectedOne(res, err, "deleting notification")
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, op)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

type preferenceRow struct {
	UserID             string       `db:"user_id"`
	CourseUpdates      sql.NullBool `db:"course_updates"`
	NewMessages        sql.NullBool `db:"new_messages"`
	MeetingReminders   sql.NullBool `db:"meeting_reminders"`
	ForumNotifications sql.NullBool `db:"forum_notifications"`
	AchievementAlerts  sql.NullBool `db:"achievement_alerts"`
	ReminderEmails     sql.NullBool `db:"reminder_emails"`
	EmailNotifications sql.NullBool `db:"email_notifications"`
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func (r preferenceRow) toPreference() notification.Preference {
	return notification.Preference{
		UserID:             r.UserID,
		CourseUpdates:      boolPtr(r.CourseUpdates),
		NewMessages:        boolPtr(r.NewMessages),
		MeetingReminders:   boolPtr(r.MeetingReminders),
		ForumNotifications: boolPtr(r.ForumNotifications),
		AchievementAlerts:  boolPtr(r.AchievementAlerts),
		ReminderEmails:     boolPtr(r.ReminderEmails),
		EmailNotifications: boolPtr(r.EmailNotifications),
	}
}

type preferenceRepository struct {
	db *sqlx.DB
}

func NewPreferenceRepository(db *sqlx.DB) notification.PreferenceStore {
	return &preferenceRepository{db: db}
}

func (repo *preferenceRepository) GetPreferences(ctx context.Context, userIDs []string) ([]notification.Preference, error) {
	if len(userIDs) == 0 {
		return []notification.Preference{}, nil
	}
	q, args, err := sqlx.In(`SELECT user_id, course_updates, new_messages, meeting_reminders, forum_notifications,
		achievement_alerts, reminder_emails, email_notifications
		FROM notification_preferences WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building preferences query")
	}

	var rows []preferenceRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting preferences")
	}
	prefs := make([]notification.Preference, 0, len(rows))
	for _, r := range rows {
		prefs = append(prefs, r.toPreference())
	}
	return prefs, nil
}
