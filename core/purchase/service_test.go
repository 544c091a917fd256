package purchase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/notification"
	"github.com/trezcool/elimu/core/purchase"
	"github.com/trezcool/elimu/tests"
)

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent creation", func(t *testing.T) {
		env := testutil.NewEnv(t)
		req := purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeDigital, PricePaid: 12}

		first, err := env.Purchases.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.False(t, first.Upgraded)

		second, err := env.Purchases.Reconcile(ctx, req)
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.False(t, second.Upgraded)
		assert.Equal(t, first.EntitlementID, second.EntitlementID)

		ents, err := env.Purchases.List(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, ents, 1)
	})

	t.Run("upgrade monotonicity", func(t *testing.T) {
		env := testutil.NewEnv(t)

		created, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeDigital})
		require.NoError(t, err)

		upgraded, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth, Upgrade: true})
		require.NoError(t, err)
		assert.True(t, upgraded.Upgraded)
		assert.Equal(t, created.EntitlementID, upgraded.EntitlementID)
		assert.Equal(t, purchase.TypeBoth, upgraded.Type)

		noop, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypePhysical, Upgrade: true})
		require.NoError(t, err)
		assert.False(t, noop.Changed())
		assert.Equal(t, purchase.TypeBoth, noop.Type)

		again, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth, Upgrade: true})
		require.NoError(t, err)
		assert.False(t, again.Upgraded)

		ent, err := env.Purchases.GetByID(ctx, created.EntitlementID)
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeBoth, ent.Type)
	})

	t.Run("different type without upgrade is a no-op", func(t *testing.T) {
		env := testutil.NewEnv(t)
		ent := testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypeDigital)

		for _, req := range []purchase.ReconcileRequest{
			{UserID: "u1", ProductID: "b1", Type: purchase.TypePhysical},
			{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth},
			{UserID: "u1", ProductID: "b1", Type: purchase.TypePhysical, Upgrade: true},
		} {
			res, err := env.Purchases.Reconcile(ctx, req)
			require.NoError(t, err)
			assert.False(t, res.Changed(), "%+v", req)
			assert.Equal(t, ent.ID, res.EntitlementID)
		}

		got, err := env.EntitlementRepo.GetEntitlementByID(ctx, ent.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeDigital, got.Type)
	})

	t.Run("invalid type", func(t *testing.T) {
		env := testutil.NewEnv(t)
		_, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: "premium"})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))
	})
}

func TestService_Reconcile_concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]struct{})
		created int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeDigital})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.EntitlementID] = struct{}{}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
	ents, err := env.Purchases.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ents, 1)
}

func TestService_Reconcile_concurrentUpgrades(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypePhysical)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		upgraded int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := env.Purchases.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth, Upgrade: true})
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, purchase.TypeBoth, res.Type)
			if res.Upgraded {
				mu.Lock()
				upgraded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, upgraded)
}

// racyRepository reports every entitlement missing on first read, as if a concurrent insert had not landed yet.
type racyRepository struct {
	purchase.EntitlementRepository
	misses int
}

func (repo *racyRepository) GetEntitlement(ctx context.Context, userID, productID string) (purchase.Entitlement, error) {
	if repo.misses > 0 {
		repo.misses--
		return purchase.Entitlement{}, core.ErrNotFound
	}
	return repo.EntitlementRepository.GetEntitlement(ctx, userID, productID)
}

func TestService_Reconcile_conflictRetriesAsUpdate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	existing := testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypeDigital)

	repo := &racyRepository{EntitlementRepository: env.EntitlementRepo, misses: 1}
	svc := purchase.NewService(repo, env.PaymentRepo, env.Logger, env.Conf)

	res, err := svc.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth, Upgrade: true})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.EntitlementID)
	assert.False(t, res.Created)
	assert.True(t, res.Upgraded)

	// a lost race on every attempt surfaces as a conflict instead of looping forever
	repo.misses = 10
	_, err = svc.Reconcile(ctx, purchase.ReconcileRequest{UserID: "u1", ProductID: "b1", Type: purchase.TypeBoth})
	assert.Equal(t, core.ErrConflict, errors.Cause(err))
}

func TestService_VerifyAndReconcile(t *testing.T) {
	ctx := context.Background()
	orderID := purchase.MakeOrderID("b1", purchase.TypeBoth, time.Unix(1700000000, 0), "u1")

	t.Run("pending before webhook", func(t *testing.T) {
		env := testutil.NewEnv(t)
		testutil.RecordPayment(t, env.PaymentRepo, "u1", "b1", orderID, purchase.PaymentPending)

		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
		require.NoError(t, err)
		assert.True(t, res.Pending)
		assert.Empty(t, res.EntitlementID)

		_, err = env.EntitlementRepo.GetEntitlement(ctx, "u1", "b1")
		assert.Equal(t, core.ErrNotFound, errors.Cause(err))
	})

	t.Run("completed payment grants the ordered type", func(t *testing.T) {
		env := testutil.NewEnv(t)
		testutil.RecordPayment(t, env.PaymentRepo, "u1", "b1", orderID, purchase.PaymentCompleted)

		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
		require.NoError(t, err)
		assert.False(t, res.Pending)
		assert.True(t, res.Created)
		assert.Equal(t, purchase.TypeBoth, res.Type)
	})

	t.Run("type comes from the recorded payment", func(t *testing.T) {
		env := testutil.NewEnv(t)
		paid := purchase.MakeOrderID("b1", purchase.TypeDigital, time.Unix(1700000000, 0), "u1")
		testutil.RecordPayment(t, env.PaymentRepo, "u1", "b1", paid, purchase.PaymentCompleted)

		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, purchase.TypeDigital, res.Type)

		ent, err := env.EntitlementRepo.GetEntitlement(ctx, "u1", "b1")
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeDigital, ent.Type)
	})

	t.Run("unparseable order id defaults to digital", func(t *testing.T) {
		env := testutil.NewEnv(t)
		testutil.RecordPayment(t, env.PaymentRepo, "u1", "b1", "garbage", purchase.PaymentCompleted)

		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: "garbage"})
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeDigital, res.Type)
	})

	t.Run("existing entitlement short-circuits", func(t *testing.T) {
		env := testutil.NewEnv(t)
		ent := testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypeDigital)

		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
		require.NoError(t, err)
		assert.False(t, res.Pending)
		assert.False(t, res.Changed())
		assert.Equal(t, ent.ID, res.EntitlementID)
	})

	t.Run("webhook and verify converge", func(t *testing.T) {
		env := testutil.NewEnv(t)
		ev := purchase.PaymentEvent{
			OrderID: orderID, UserID: "u1", ProductID: "b1",
			ProductKind: purchase.ProductBook, Amount: 30, Status: purchase.PaymentCompleted,
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.Purchases.HandlePaymentEvent(ctx, ev)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
			assert.NoError(t, err)
		}()
		wg.Wait()

		// verify may have run before the payment was recorded: replaying it now is idempotent
		res, err := env.Purchases.VerifyAndReconcile(ctx, purchase.VerifyPurchase{UserID: "u1", ProductID: "b1", OrderID: orderID})
		require.NoError(t, err)
		assert.False(t, res.Pending)

		ents, err := env.Purchases.List(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, ents, 1)
		assert.Equal(t, purchase.TypeBoth, ents[0].Type)
	})
}

func TestService_HandlePaymentEvent(t *testing.T) {
	ctx := context.Background()
	orderID := purchase.MakeOrderID("b1", purchase.TypeDigital, time.Now(), "u1")
	event := func(status purchase.PaymentStatus) purchase.PaymentEvent {
		return purchase.PaymentEvent{
			OrderID: orderID, UserID: "u1", ProductID: "b1",
			ProductKind: purchase.ProductBook, Amount: 15, Status: status, Email: "u1@test.test",
		}
	}

	env := testutil.NewEnv(t)

	res, err := env.Purchases.HandlePaymentEvent(ctx, event(purchase.PaymentPending))
	require.NoError(t, err)
	assert.Nil(t, res.Reconcile)
	assert.Equal(t, purchase.PaymentPending, res.Payment.Status)

	res, err = env.Purchases.HandlePaymentEvent(ctx, event(purchase.PaymentCompleted))
	require.NoError(t, err)
	require.NotNil(t, res.Reconcile)
	assert.True(t, res.Reconcile.Created)
	assert.Equal(t, purchase.TypeDigital, res.Reconcile.Type)

	// redelivery converges
	res, err = env.Purchases.HandlePaymentEvent(ctx, event(purchase.PaymentCompleted))
	require.NoError(t, err)
	require.NotNil(t, res.Reconcile)
	assert.False(t, res.Reconcile.Changed())

	// a late failure event cannot rewrite a completed payment
	res, err = env.Purchases.HandlePaymentEvent(ctx, event(purchase.PaymentFailed))
	require.NoError(t, err)
	assert.Equal(t, purchase.PaymentCompleted, res.Payment.Status)

	env.Drain(t)
	notifs := testutil.Notifications(t, env, "u1")
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.TypeBookPurchased, notifs[0].Type)
	sent := env.Mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "u1@test.test", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "digital access to b1")
}

func TestService_HandlePaymentEvent_upgrade(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	ent := testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypeDigital)

	res, err := env.Purchases.HandlePaymentEvent(ctx, purchase.PaymentEvent{
		OrderID:     purchase.MakeOrderID("b1", purchase.TypeBoth, time.Now(), "u1"),
		UserID:      "u1",
		ProductID:   "b1",
		ProductKind: purchase.ProductBook,
		Amount:      20,
		Status:      purchase.PaymentCompleted,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Reconcile)
	assert.True(t, res.Reconcile.Upgraded)
	assert.Equal(t, ent.ID, res.Reconcile.EntitlementID)

	env.Drain(t)
	notifs := testutil.Notifications(t, env, "u1")
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.TypePurchaseUpgraded, notifs[0].Type)
	assert.Empty(t, env.Mail.SentMessages())
}

func TestService_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("upgrade existing purchase", func(t *testing.T) {
		env := testutil.NewEnv(t)
		ent := testutil.CreateEntitlement(t, env.EntitlementRepo, "u1", "b1", purchase.TypeDigital)

		res, err := env.Purchases.Purchase(ctx, purchase.NewPurchase{
			ProductID:          "b1",
			UserID:             "u1",
			PurchaseType:       purchase.TypeBoth,
			UpgradeExisting:    true,
			ExistingPurchaseID: ent.ID,
		})
		require.NoError(t, err)
		assert.True(t, res.Upgraded)
		assert.Equal(t, ent.ID, res.EntitlementID)
	})

	t.Run("existing purchase of another user", func(t *testing.T) {
		env := testutil.NewEnv(t)
		other := testutil.CreateEntitlement(t, env.EntitlementRepo, "u2", "b1", purchase.TypeDigital)

		_, err := env.Purchases.Purchase(ctx, purchase.NewPurchase{
			ProductID:          "b1",
			UserID:             "u1",
			PurchaseType:       purchase.TypeBoth,
			UpgradeExisting:    true,
			ExistingPurchaseID: other.ID,
		})
		assert.Equal(t, core.ErrNotFound, errors.Cause(err))
	})

	t.Run("unknown existing purchase", func(t *testing.T) {
		env := testutil.NewEnv(t)
		_, err := env.Purchases.Purchase(ctx, purchase.NewPurchase{
			ProductID: "b1", UserID: "u1", PurchaseType: purchase.TypeBoth, ExistingPurchaseID: "nope",
		})
		assert.Equal(t, core.ErrNotFound, errors.Cause(err))
	})

	t.Run("price paid", func(t *testing.T) {
		env := testutil.NewEnv(t)
		res, err := env.Purchases.Purchase(ctx, purchase.NewPurchase{
			ProductID: "b1", UserID: "u1", PurchaseType: purchase.TypePhysical, PricePaid: testutil.Float(9.5),
		})
		require.NoError(t, err)
		ent, err := env.Purchases.GetByID(ctx, res.EntitlementID)
		require.NoError(t, err)
		assert.Equal(t, 9.5, ent.PricePaid)
		assert.Equal(t, purchase.TypePhysical, ent.Type)
	})
}
