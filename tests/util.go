package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
	"github.com/trezcool/elimu/core/purchase"
	"github.com/trezcool/elimu/core/subscription"
	"github.com/trezcool/elimu/fs"
	"github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/guard"
	"github.com/trezcool/elimu/services/logger"
	"github.com/trezcool/elimu/services/tasks"
	"github.com/trezcool/elimu/storage/database/inmem"
)

// Env is a fully wired application backed by in-memory storage.
type Env struct {
	Conf   *core.Config
	Logger core.Logger

	DB               *inmemdb.DB
	EntitlementRepo  purchase.EntitlementRepository
	PaymentRepo      purchase.PaymentRepository
	NotificationRepo notification.Repository
	Preferences      interface {
		notification.PreferenceStore
		SavePreference(ctx context.Context, p notification.Preference) error
	}
	Subscriptions interface {
		subscription.Repository
		SaveSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	}

	Tasks         *tasks.Runner
	Mail          *emailsvc.ConsoleService
	Guard         *guard.MemoryGuard
	Purchases     *purchase.Service
	Notifications *notification.Service
	Scanner       *subscription.Scanner
}

func NewLogger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), core.NewTestConfig())
}

// NewValidator returns a validator with every custom tag of the app registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	purchase.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)
	return validate, translator
}

// NewEnv wires every service on top of fresh in-memory storage. The task runner is drained on cleanup.
func NewEnv(t *testing.T, confOpts ...func(*core.Config)) *Env {
	conf := core.NewTestConfig()
	for _, opt := range confOpts {
		opt(conf)
	}
	logger := NewLogger()
	db := inmemdb.Open()

	env := &Env{
		Conf:             conf,
		Logger:           logger,
		DB:               db,
		EntitlementRepo:  inmemdb.NewEntitlementRepository(db),
		PaymentRepo:      inmemdb.NewPaymentRepository(db),
		NotificationRepo: inmemdb.NewNotificationRepository(db),
		Preferences:      inmemdb.NewPreferenceRepository(db),
		Subscriptions:    inmemdb.NewSubscriptionRepository(db),
		Tasks:            tasks.NewRunner(logger, conf),
		Mail:             emailsvc.NewConsoleService(core.NewEmailTemplates(appfs.FS, conf), nil, conf),
		Guard:            guard.NewMemoryGuard(),
	}
	env.Notifications = notification.NewService(env.NotificationRepo, env.Preferences, logger, conf)
	env.Purchases = purchase.NewService(env.EntitlementRepo, env.PaymentRepo, logger, conf)
	env.Purchases.Subscribe(purchase.NewFulfillmentListener(env.Notifications, env.Mail, env.Tasks, logger))
	env.Scanner = subscription.NewScanner(env.Subscriptions, env.Notifications, env.Guard, env.Mail, env.Tasks, logger, conf)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.Tasks.Shutdown(ctx)
	})
	return env
}

// Drain waits for every queued background task.
func (env *Env) Drain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.Tasks.Wait(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
}

func Bool(b bool) *bool { return &b }

func Float(f float64) *float64 { return &f }

func CreateEntitlement(t *testing.T, repo purchase.EntitlementRepository, userID, productID string, typ purchase.Type) purchase.Entitlement {
	now := time.Now().UTC()
	ent, err := repo.InsertEntitlement(context.Background(), purchase.Entitlement{
		UserID:      userID,
		ProductID:   productID,
		Type:        typ,
		PurchasedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateEntitlement() failed: %v", err)
	}
	return ent
}

func RecordPayment(
	t *testing.T,
	repo purchase.PaymentRepository,
	userID, productID, orderID string,
	status purchase.PaymentStatus,
	createdAt ...time.Time,
) purchase.PaymentRecord {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	rec, err := repo.RecordPayment(context.Background(), purchase.PaymentRecord{
		UserID:         userID,
		ProductID:      productID,
		ProductKind:    purchase.ProductBook,
		Amount:         10,
		Status:         status,
		GatewayOrderID: orderID,
		CreatedAt:      tstamp,
		UpdatedAt:      tstamp,
	})
	if err != nil {
		t.Fatalf("RecordPayment() failed: %v", err)
	}
	return rec
}

func SavePreference(t *testing.T, env *Env, pref notification.Preference) {
	if err := env.Preferences.SavePreference(context.Background(), pref); err != nil {
		t.Fatalf("SavePreference() failed: %v", err)
	}
}

func CreateSubscription(t *testing.T, env *Env, userID, productName string, periodEnd time.Time, status ...subscription.Status) subscription.Subscription {
	st := subscription.StatusActive
	if len(status) > 0 {
		st = status[0]
	}
	sub, err := env.Subscriptions.SaveSubscription(context.Background(), subscription.Subscription{
		UserID:           userID,
		ProductRef:       "course-" + productName,
		ProductName:      productName,
		UserEmail:        userID + "@test.test",
		Status:           st,
		CurrentPeriodEnd: periodEnd,
	})
	if err != nil {
		t.Fatalf("CreateSubscription() failed: %v", err)
	}
	return sub
}

// Notifications lists every notification of userID, newest first.
func Notifications(t *testing.T, env *Env, userID string) []notification.Notification {
	notifs, err := env.NotificationRepo.QueryNotifications(context.Background(), userID, notification.QueryFilter{Limit: notification.MaxLimit})
	if err != nil {
		t.Fatalf("Notifications() failed: %v", err)
	}
	return notifs
}
