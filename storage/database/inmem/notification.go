package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notifications}
}

func (repo *notificationRepository) CreateNotifications(_ context.Context, notifs []notification.Notification) ([]notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	created := make([]notification.Notification, 0, len(notifs))
	for _, n := range notifs {
		n := n
		n.ID = uuid.New().String()
		repo.db.rows = append(repo.db.rows, &n)
		created = append(created, n)
	}
	return created, nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, userID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	notifs := make([]notification.Notification, 0)
	for _, n := range repo.db.rows {
		if n.UserID != userID || (filter.UnreadOnly && n.Read) {
			continue
		}
		notifs = append(notifs, *n)
	}
	// newest first; rows are appended in creation order
	sort.SliceStable(notifs, func(i, j int) bool { return notifs[i].CreatedAt.After(notifs[j].CreatedAt) })
	if filter.Limit > 0 && len(notifs) > filter.Limit {
		notifs = notifs[:filter.Limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, n := range repo.db.rows {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (repo *notificationRepository) find(userID, id string) (int, bool) {
	for i, n := range repo.db.rows {
		if n.ID == id && n.UserID == userID {
			return i, true
		}
	}
	return 0, false
}

func (repo *notificationRepository) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	i, ok := repo.find(userID, id)
	if !ok {
		return core.ErrNotFound
	}
	if n := repo.db.rows[i]; !n.Read {
		n.Read = true
		n.ReadAt = &at
	}
	return nil
}

func (repo *notificationRepository) MarkAllRead(_ context.Context, userID string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, n := range repo.db.rows {
		if n.UserID == userID && !n.Read {
			n.Read = true
			n.ReadAt = &at
		}
	}
	return nil
}

func (repo *notificationRepository) DeleteNotification(_ context.Context, userID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	i, ok := repo.find(userID, id)
	if !ok {
		return core.ErrNotFound
	}
	repo.db.rows = append(repo.db.rows[:i], repo.db.rows[i+1:]...)
	return nil
}

type preferenceRepository struct {
	db *preferenceTable
}

func NewPreferenceRepository(db *DB) *preferenceRepository {
	return &preferenceRepository{db: db.preferences}
}

func (repo *preferenceRepository) GetPreferences(_ context.Context, userIDs []string) ([]notification.Preference, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	prefs := make([]notification.Preference, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := repo.db.table[id]; ok {
			prefs = append(prefs, p)
		}
	}
	return prefs, nil
}

// SavePreference replaces the settings of p.UserID.
func (repo *preferenceRepository) SavePreference(_ context.Context, p notification.Preference) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[p.UserID] = p
	return nil
}
