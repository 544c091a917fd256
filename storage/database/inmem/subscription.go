package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/elimu/core/subscription"
)

type subscriptionRepository struct {
	db *subscriptionTable
}

func NewSubscriptionRepository(db *DB) *subscriptionRepository {
	return &subscriptionRepository{db: db.subscriptions}
}

func (repo *subscriptionRepository) ActiveExpiringBetween(_ context.Context, from, to time.Time) ([]subscription.Subscription, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]subscription.Subscription, 0)
	for _, sub := range repo.db.table {
		if sub.Status != subscription.StatusActive {
			continue
		}
		if sub.CurrentPeriodEnd.After(from) && !sub.CurrentPeriodEnd.After(to) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CurrentPeriodEnd.Before(subs[j].CurrentPeriodEnd) })
	return subs, nil
}

// SaveSubscription inserts or replaces sub, assigning an id when missing.
func (repo *subscriptionRepository) SaveSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.UTC()
	repo.db.table[sub.ID] = sub
	return sub, nil
}
