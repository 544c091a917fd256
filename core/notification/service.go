package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

type (
	Repository interface {
		// CreateNotifications inserts all rows in one batch and returns them with their ids.
		CreateNotifications(ctx context.Context, notifs []Notification) ([]Notification, error)
		QueryNotifications(ctx context.Context, userID string, filter QueryFilter) ([]Notification, error)
		CountUnread(ctx context.Context, userID string) (int, error)
		// MarkRead returns core.ErrNotFound unless notification id belongs to userID.
		MarkRead(ctx context.Context, userID, id string, at time.Time) error
		MarkAllRead(ctx context.Context, userID string, at time.Time) error
		// DeleteNotification returns core.ErrNotFound unless notification id belongs to userID.
		DeleteNotification(ctx context.Context, userID, id string) error
	}

	Service struct {
		repo         Repository
		prefs        PreferenceStore
		logger       core.Logger
		queryTimeout time.Duration
		nowFunc      func() time.Time
	}
)

func NewService(repo Repository, prefs PreferenceStore, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:         repo,
		prefs:        prefs,
		logger:       logger,
		queryTimeout: conf.Database.QueryTimeout,
		nowFunc:      time.Now,
	}
}

func (svc *Service) now() time.Time { return svc.nowFunc().UTC() }

// Dispatch creates one notification per addressed user accepting its type.
// Nothing is written when every recipient opted out.
func (svc *Service) Dispatch(ctx context.Context, nn NewNotification) ([]Notification, error) {
	qctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	allowed, err := Filter(qctx, svc.prefs, nn.Recipients(), nn.Type)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return []Notification{}, nil
	}

	now := svc.now()
	notifs := make([]Notification, 0, len(allowed))
	for _, uid := range allowed {
		notifs = append(notifs, Notification{
			UserID:      uid,
			Type:        nn.Type,
			Title:       nn.Title,
			Message:     nn.Message,
			Link:        nn.Link,
			RelatedID:   nn.RelatedID,
			RelatedType: nn.RelatedType,
			CreatedAt:   now,
		})
	}

	qctx, cancel = core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	created, err := svc.repo.CreateNotifications(qctx, notifs)
	if err != nil {
		return nil, errors.Wrap(err, "creating notifications")
	}
	return created, nil
}

// Query lists the newest notifications of userID along with the total unread count.
func (svc *Service) Query(ctx context.Context, userID string, filter QueryFilter) ([]Notification, int, error) {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()

	notifs, err := svc.repo.QueryNotifications(ctx, userID, filter.normalize())
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying notifications")
	}
	unread, err := svc.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting unread notifications")
	}
	return notifs, unread, nil
}

func (svc *Service) MarkRead(ctx context.Context, userID, id string) error {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.repo.MarkRead(ctx, userID, id, svc.now())
}

func (svc *Service) MarkAllRead(ctx context.Context, userID string) error {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.repo.MarkAllRead(ctx, userID, svc.now())
}

func (svc *Service) Delete(ctx context.Context, userID, id string) error {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.repo.DeleteNotification(ctx, userID, id)
}
