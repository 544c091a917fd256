package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
	"github.com/trezcool/elimu/core/purchase"
	"github.com/trezcool/elimu/core/subscription"
	appfs "github.com/trezcool/elimu/fs"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/guard"
	logsvc "github.com/trezcool/elimu/services/logger"
	"github.com/trezcool/elimu/services/tasks"
	"github.com/trezcool/elimu/storage/database"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
	boiledrepos "github.com/trezcool/elimu/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/elimu/storage/database/sqlx"
)

const engineInMem = "inmem"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	repositories struct {
		dig.Out
		Entitlements  purchase.EntitlementRepository
		Payments      purchase.PaymentRepository
		Notifications notification.Repository
		Preferences   notification.PreferenceStore
		Subscriptions subscription.Repository
	}

	serverParams struct {
		dig.In
		Conf            *core.Config
		Logger          core.Logger
		Validate        *validator.Validate
		Translator      ut.Translator
		PurchaseSvc     *purchase.Service
		NotificationSvc *notification.Service
		Scanner         *subscription.Scanner
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

// newDB returns a nil *sql.DB with the in-memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sql.DB {
	if conf.Database.Engine == engineInMem {
		return nil
	}

	setUp := func() (*sql.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, appfs.FS, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRepositories(conf *core.Config, db *sql.DB) repositories {
	if conf.Database.Engine == engineInMem {
		mem := inmemdb.Open()
		return repositories{
			Entitlements:  inmemdb.NewEntitlementRepository(mem),
			Payments:      inmemdb.NewPaymentRepository(mem),
			Notifications: inmemdb.NewNotificationRepository(mem),
			Preferences:   inmemdb.NewPreferenceRepository(mem),
			Subscriptions: inmemdb.NewSubscriptionRepository(mem),
		}
	}

	xdb := sqlxrepos.NewDB(db)
	return repositories{
		Entitlements:  sqlxrepos.NewEntitlementRepository(xdb),
		Payments:      sqlxrepos.NewPaymentRepository(xdb),
		Notifications: sqlxrepos.NewNotificationRepository(xdb),
		Preferences:   sqlxrepos.NewPreferenceRepository(xdb),
		Subscriptions: boiledrepos.NewSubscriptionRepository(db),
	}
}

func newEmailService(conf *core.Config) core.EmailService {
	templates := core.NewEmailTemplates(appfs.FS, conf)
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(templates, os.Stdout, conf)
	}
	return emailsvc.NewSendgridService(templates, conf)
}

// newGuard shares the scan lock through redis when configured, and keeps it in-process otherwise.
func newGuard(conf *core.Config, logger core.Logger) subscription.Guard {
	if conf.Redis.Address == "" {
		return guard.NewMemoryGuard()
	}
	return guard.NewRedisGuard(guard.NewRedisClient(conf), logger)
}

func newTaskQueue(runner *tasks.Runner) core.TaskQueue {
	return runner
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	purchase.InitValidators(validate, translator)
	notification.InitValidators(validate, translator)
	return validate
}

func newPurchaseService(
	entRepo purchase.EntitlementRepository,
	payRepo purchase.PaymentRepository,
	notifSvc *notification.Service,
	mailSvc core.EmailService,
	taskQueue core.TaskQueue,
	logger core.Logger,
	conf *core.Config,
) *purchase.Service {
	svc := purchase.NewService(entRepo, payRepo, logger, conf)
	svc.Subscribe(purchase.NewFulfillmentListener(notifSvc, mailSvc, taskQueue, logger))
	return svc
}

func newScanner(
	repo subscription.Repository,
	notifSvc *notification.Service,
	g subscription.Guard,
	mailSvc core.EmailService,
	taskQueue core.TaskQueue,
	logger core.Logger,
	conf *core.Config,
) *subscription.Scanner {
	return subscription.NewScanner(repo, notifSvc, g, mailSvc, taskQueue, logger, conf)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		PurchaseSvc:     p.PurchaseSvc,
		NotificationSvc: p.NotificationSvc,
		Scanner:         p.Scanner,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(newGuard))
	must(c.Provide(tasks.NewRunner))
	must(c.Provide(newTaskQueue))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(notification.NewService))
	must(c.Provide(newPurchaseService))
	must(c.Provide(newScanner))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
