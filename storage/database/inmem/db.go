package inmemdb

import (
	"sync"

	"github.com/trezcool/elimu/core/notification"
	"github.com/trezcool/elimu/core/purchase"
	"github.com/trezcool/elimu/core/subscription"
)

type (
	// DB is a process-local store honoring the same constraints as the postgres schema.
	DB struct {
		purchases     *purchaseTable
		payments      *paymentTable
		notifications *notificationTable
		preferences   *preferenceTable
		subscriptions *subscriptionTable
	}

	purchaseTable struct {
		sync.RWMutex
		table map[string]*purchase.Entitlement
		byKey map[purchaseKey]string // unique (user_id, product_id)
	}

	purchaseKey struct {
		userID, productID string
	}

	paymentTable struct {
		sync.RWMutex
		table   map[string]*purchase.PaymentRecord
		byOrder map[string]string // unique gateway_order_id
	}

	notificationTable struct {
		sync.RWMutex
		rows []*notification.Notification
	}

	preferenceTable struct {
		sync.RWMutex
		table map[string]notification.Preference
	}

	subscriptionTable struct {
		sync.RWMutex
		table map[string]subscription.Subscription
	}
)

func Open() *DB {
	return &DB{
		purchases: &purchaseTable{
			table: make(map[string]*purchase.Entitlement),
			byKey: make(map[purchaseKey]string),
		},
		payments: &paymentTable{
			table:   make(map[string]*purchase.PaymentRecord),
			byOrder: make(map[string]string),
		},
		notifications: &notificationTable{},
		preferences:   &preferenceTable{table: make(map[string]notification.Preference)},
		subscriptions: &subscriptionTable{table: make(map[string]subscription.Subscription)},
	}
}
