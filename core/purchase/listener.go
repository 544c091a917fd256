package purchase

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
)

const (
	libraryLink         = "/library"
	purchaseRelatedType = "purchase"
)

// Dispatcher creates in-app notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, nn notification.NewNotification) ([]notification.Notification, error)
}

// NewFulfillmentListener returns a Listener queueing the in-app notification and the confirmation email
// of a new or upgraded entitlement. Both are best-effort: failures are retried then logged.
func NewFulfillmentListener(notifs Dispatcher, mailSvc core.EmailService, tasks core.TaskQueue, logger core.Logger) Listener {
	return func(ent Entitlement, res ReconcileResult, req ReconcileRequest) {
		nn, tmpl, subject := fulfillmentNotice(ent, res)

		if !tasks.Enqueue("notification:"+string(nn.Type), func(ctx context.Context) error {
			_, err := notifs.Dispatch(ctx, nn)
			return err
		}) {
			logger.Warn("purchase notification dropped", core.Person{ID: ent.UserID}, map[string]interface{}{"purchase": ent.ID})
		}

		if req.Email == "" || mailSvc == nil {
			return
		}
		msg := &core.EmailMessage{
			To:           []mail.Address{{Address: req.Email}},
			Subject:      subject,
			TemplateName: tmpl,
			TemplateData: map[string]interface{}{
				"ProductID": ent.ProductID,
				"Type":      string(ent.Type),
				"Link":      libraryLink,
			},
		}
		if !tasks.Enqueue("email:"+tmpl, func(ctx context.Context) error { return mailSvc.Send(ctx, msg) }) {
			logger.Warn("purchase email dropped", core.Person{ID: ent.UserID, Email: req.Email}, map[string]interface{}{"purchase": ent.ID})
		}
	}
}

func fulfillmentNotice(ent Entitlement, res ReconcileResult) (nn notification.NewNotification, tmpl, subject string) {
	nn = notification.NewNotification{
		UserID:      ent.UserID,
		Link:        libraryLink,
		RelatedID:   ent.ID,
		RelatedType: purchaseRelatedType,
	}
	if res.Upgraded {
		nn.Type = notification.TypePurchaseUpgraded
		nn.Title = "Purchase upgraded"
		nn.Message = "You now have both digital and physical access to your purchase."
		return nn, "purchase_upgraded", nn.Title
	}
	nn.Type = notification.TypeBookPurchased
	nn.Title = "Purchase confirmed"
	access := string(ent.Type)
	if ent.Type == TypeBoth {
		access = "digital and physical"
	}
	nn.Message = fmt.Sprintf("You now have %s access to your purchase.", access)
	return nn, "purchase_confirmation", nn.Title
}
