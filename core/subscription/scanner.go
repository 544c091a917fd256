package subscription

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
)

const (
	day = 24 * time.Hour

	noticeTitle       = "Subscription expiring soon"
	noticeLink        = "/subscriptions"
	noticeRelatedType = "subscription"
	noticeTemplate    = "subscription_expiring"
)

// ErrScanInProgress is returned when another sweep holds the scan lock.
var ErrScanInProgress = errors.Wrap(core.ErrConflict, "expiry scan already running")

type (
	Repository interface {
		// ActiveExpiringBetween lists active subscriptions whose period ends in (from, to].
		ActiveExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscription, error)
	}

	// Guard serializes sweeps across processes and remembers which notices went out today.
	Guard interface {
		// Lock returns ErrScanInProgress if the lock is held elsewhere.
		Lock(ctx context.Context, ttl time.Duration) (unlock func(), err error)
		// MarkNotified reports true the first time it is called for (subscriptionID, days) on now's UTC day.
		MarkNotified(ctx context.Context, subscriptionID string, days int, now time.Time) (bool, error)
	}

	Dispatcher interface {
		Dispatch(ctx context.Context, nn notification.NewNotification) ([]notification.Notification, error)
	}

	Scanner struct {
		repo   Repository
		notifs Dispatcher
		guard  Guard
		mail   core.EmailService
		tasks  core.TaskQueue
		logger core.Logger

		window       time.Duration
		dedupe       bool
		lockTTL      time.Duration
		queryTimeout time.Duration
	}
)

func NewScanner(
	repo Repository,
	notifs Dispatcher,
	guard Guard,
	mailSvc core.EmailService,
	tasks core.TaskQueue,
	logger core.Logger,
	conf *core.Config,
) *Scanner {
	window := conf.Subscriptions.WarningWindow
	if window <= 0 {
		window = 7 * day
	}
	return &Scanner{
		repo:         repo,
		notifs:       notifs,
		guard:        guard,
		mail:         mailSvc,
		tasks:        tasks,
		logger:       logger,
		window:       window,
		dedupe:       conf.Subscriptions.DedupeNotices,
		lockTTL:      conf.Subscriptions.ScanLockTTL,
		queryTimeout: conf.Database.QueryTimeout,
	}
}

// DaysUntil returns the number of started days between now and end.
func DaysUntil(end, now time.Time) int {
	return int(math.Ceil(float64(end.Sub(now)) / float64(day)))
}

// ShouldNotify reports whether a subscription `days` away from expiry gets a warning.
func ShouldNotify(days int) bool {
	return days <= 1 || days == 3 || days == 7
}

// NoticeMessage is the user-facing expiry warning.
func NoticeMessage(productName string, days int) string {
	if days <= 1 {
		return fmt.Sprintf("Your subscription to %s expires today", productName)
	}
	return fmt.Sprintf("Your subscription to %s expires in %d days", productName, days)
}

// Scan runs one sweep over subscriptions ending within the warning window after now.
// A failure for one subscription is counted and does not stop the sweep.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (ScanResult, error) {
	now = now.UTC()
	unlock, err := s.guard.Lock(ctx, s.lockTTL)
	if err != nil {
		return ScanResult{}, err
	}
	defer unlock()

	qctx, cancel := core.WithTimeout(ctx, s.queryTimeout)
	subs, err := s.repo.ActiveExpiringBetween(qctx, now, now.Add(s.window))
	cancel()
	if err != nil {
		return ScanResult{}, errors.Wrap(err, "listing expiring subscriptions")
	}

	res := ScanResult{Total: len(subs)}
	for _, sub := range subs {
		days := DaysUntil(sub.CurrentPeriodEnd, now)
		if !ShouldNotify(days) {
			continue
		}
		if s.dedupe && !s.firstNotice(ctx, sub, days, now) {
			continue
		}

		created, err := s.notifs.Dispatch(ctx, notification.NewNotification{
			UserID:      sub.UserID,
			Type:        notification.TypeSubscriptionExpiring,
			Title:       noticeTitle,
			Message:     NoticeMessage(sub.ProductName, days),
			Link:        noticeLink,
			RelatedID:   sub.ID,
			RelatedType: noticeRelatedType,
		})
		if err != nil {
			res.NotificationsFailed++
			s.logger.Error("subscription expiry notice failed", err, map[string]interface{}{"subscription": sub.ID})
			continue
		}
		if len(created) == 0 {
			// opted out
			continue
		}
		res.NotificationsSent++
		s.enqueueEmail(sub, days)
	}

	s.logger.Info(fmt.Sprintf("expiry scan: %d subscriptions, %d sent, %d failed",
		res.Total, res.NotificationsSent, res.NotificationsFailed))
	return res, nil
}

// firstNotice fails open: a guard outage must not silence warnings.
func (s *Scanner) firstNotice(ctx context.Context, sub Subscription, days int, now time.Time) bool {
	first, err := s.guard.MarkNotified(ctx, sub.ID, days, now)
	if err != nil {
		s.logger.Warn("marking expiry notice", err, map[string]interface{}{"subscription": sub.ID})
		return true
	}
	return first
}

func (s *Scanner) enqueueEmail(sub Subscription, days int) {
	if sub.UserEmail == "" || s.mail == nil || s.tasks == nil {
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Address: sub.UserEmail}},
		Subject:      noticeTitle,
		TemplateName: noticeTemplate,
		TemplateData: map[string]interface{}{
			"ProductName": sub.ProductName,
			"Days":        days,
			"ExpiresAt":   sub.CurrentPeriodEnd,
			"Link":        noticeLink,
		},
	}
	if !s.tasks.Enqueue("email:"+noticeTemplate, func(ctx context.Context) error { return s.mail.Send(ctx, msg) }) {
		s.logger.Warn("expiry email dropped", map[string]interface{}{"subscription": sub.ID})
	}
}
