package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/elimu/core/subscription"
)

// boiledSubscription mirrors the subscriptions table. Subscriptions are written by billing, so only
// nullable columns are trusted to be sparse.
type boiledSubscription struct {
	ID                string      `boil:"id"`
	UserID            string      `boil:"user_id"`
	ProductRef        string      `boil:"product_ref"`
	ProductName       null.String `boil:"product_name"`
	UserEmail         null.String `boil:"user_email"`
	Status            string      `boil:"status"`
	CurrentPeriodEnd  time.Time   `boil:"current_period_end"`
	CancelAtPeriodEnd null.Bool   `boil:"cancel_at_period_end"`
}

type subscriptionRepository struct {
	exec boil.Executor
}

var _ subscription.Repository = (*subscriptionRepository)(nil) // interface compliance check

func NewSubscriptionRepository(exec boil.Executor) *subscriptionRepository {
	return &subscriptionRepository{exec: exec}
}

func (repo subscriptionRepository) unboil(sub *boiledSubscription) subscription.Subscription {
	name := sub.ProductName.String
	if name == "" {
		name = sub.ProductRef
	}
	return subscription.Subscription{
		ID:                sub.ID,
		UserID:            sub.UserID,
		ProductRef:        sub.ProductRef,
		ProductName:       name,
		UserEmail:         sub.UserEmail.String,
		Status:            subscription.Status(sub.Status),
		CurrentPeriodEnd:  sub.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd.Bool,
	}
}

func (repo subscriptionRepository) ActiveExpiringBetween(ctx context.Context, from, to time.Time) ([]subscription.Subscription, error) {
	var boiled []*boiledSubscription
	err := queries.Raw(`SELECT id, user_id, product_ref, product_name, user_email, status,
			current_period_end, cancel_at_period_end
		FROM subscriptions
		WHERE status = $1 AND current_period_end > $2 AND current_period_end <= $3
		ORDER BY current_period_end`,
		string(subscription.StatusActive), from.UTC(), to.UTC(),
	).Bind(ctx, repo.exec, &boiled)
	if err != nil {
		return nil, errors.Wrap(err, "selecting expiring subscriptions")
	}

	subs := make([]subscription.Subscription, 0, len(boiled))
	for _, b := range boiled {
		subs = append(subs, repo.unboil(b))
	}
	return subs, nil
}
