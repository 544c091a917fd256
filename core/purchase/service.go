package purchase

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

// reconcileAttempts bounds insert/update retries when an insert loses a unique-key race.
const reconcileAttempts = 3

var (
	errInvalidType        = errors.New("invalid purchase type")
	errExistingMismatched = errors.New("existing purchase does not match this product")
)

type (
	// EntitlementRepository is the storage of entitlements. Implementations must enforce
	// uniqueness of (user, product) and apply upgrades as a single conditional write.
	EntitlementRepository interface {
		GetEntitlement(ctx context.Context, userID, productID string) (Entitlement, error)
		GetEntitlementByID(ctx context.Context, id string) (Entitlement, error)
		ListEntitlements(ctx context.Context, userID string) ([]Entitlement, error)
		// InsertEntitlement returns core.ErrConflict if (user, product) already exists.
		InsertEntitlement(ctx context.Context, ent Entitlement) (Entitlement, error)
		// UpgradeEntitlement sets type to both unless it already is. It reports whether a row changed.
		UpgradeEntitlement(ctx context.Context, id string, at time.Time) (bool, error)
	}

	// PaymentRepository is the Payment Record Store.
	PaymentRepository interface {
		// RecordPayment upserts by GatewayOrderID; a completed record is left untouched.
		RecordPayment(ctx context.Context, rec PaymentRecord) (PaymentRecord, error)
		LatestCompletedPayment(ctx context.Context, userID, productID string) (PaymentRecord, error)
	}

	// Listener is notified after a reconciliation created or upgraded an entitlement.
	// It must not block: side effects belong on a background queue.
	Listener func(ent Entitlement, res ReconcileResult, req ReconcileRequest)

	Service struct {
		entitlements EntitlementRepository
		payments     PaymentRepository
		listeners    []Listener
		logger       core.Logger
		queryTimeout time.Duration
		nowFunc      func() time.Time
	}
)

func NewService(entRepo EntitlementRepository, payRepo PaymentRepository, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		entitlements: entRepo,
		payments:     payRepo,
		logger:       logger,
		queryTimeout: conf.Database.QueryTimeout,
		nowFunc:      time.Now,
	}
}

// Subscribe registers l to be called after every entitlement creation or upgrade.
func (svc *Service) Subscribe(l Listener) {
	svc.listeners = append(svc.listeners, l)
}

func (svc *Service) now() time.Time { return svc.nowFunc().UTC() }

func (svc *Service) notify(ent Entitlement, res ReconcileResult, req ReconcileRequest) {
	if !res.Changed() {
		return
	}
	for _, l := range svc.listeners {
		l(ent, res, req)
	}
}

// Reconcile creates or upgrades the entitlement of (user, product):
//   - none exists: insert with the requested type (Created)
//   - same type exists: no-op
//   - different type, upgrade requested to both: conditional upgrade (Upgraded if this call applied it)
//   - different type otherwise: no-op
//
// It never deletes nor downgrades an entitlement.
func (svc *Service) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if !req.Type.IsValid() {
		return ReconcileResult{}, core.NewValidationError(errInvalidType, core.FieldError{Field: "purchaseType", Error: errInvalidType.Error()})
	}

	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		ent, err := svc.getEntitlement(ctx, req.UserID, req.ProductID)
		switch errors.Cause(err) {
		case nil:
			return svc.reconcileExisting(ctx, ent, req)
		case core.ErrNotFound:
			ent, err = svc.insertEntitlement(ctx, req)
			if err == nil {
				res := ReconcileResult{EntitlementID: ent.ID, Type: ent.Type, Created: true}
				svc.notify(ent, res, req)
				return res, nil
			}
			if errors.Cause(err) != core.ErrConflict {
				return ReconcileResult{}, errors.Wrap(err, "inserting entitlement")
			}
			// lost the insert race: the row exists now, take the update path
		default:
			return ReconcileResult{}, errors.Wrap(err, "getting entitlement")
		}
	}
	return ReconcileResult{}, errors.Wrap(core.ErrConflict, "reconciling entitlement")
}

func (svc *Service) reconcileExisting(ctx context.Context, ent Entitlement, req ReconcileRequest) (ReconcileResult, error) {
	res := ReconcileResult{EntitlementID: ent.ID, Type: ent.Type}
	if ent.Type == req.Type || !req.Upgrade || req.Type != TypeBoth {
		return res, nil
	}

	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	now := svc.now()
	upgraded, err := svc.entitlements.UpgradeEntitlement(ctx, ent.ID, now)
	if err != nil {
		return ReconcileResult{}, errors.Wrap(err, "upgrading entitlement")
	}
	// another request may have applied the upgrade concurrently; either way the row is "both" now
	res.Type = TypeBoth
	if upgraded {
		res.Upgraded = true
		ent.Type = TypeBoth
		ent.UpdatedAt = now
		svc.notify(ent, res, req)
	}
	return res, nil
}

func (svc *Service) getEntitlement(ctx context.Context, userID, productID string) (Entitlement, error) {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.entitlements.GetEntitlement(ctx, userID, productID)
}

func (svc *Service) insertEntitlement(ctx context.Context, req ReconcileRequest) (Entitlement, error) {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	now := svc.now()
	return svc.entitlements.InsertEntitlement(ctx, Entitlement{
		UserID:      req.UserID,
		ProductID:   req.ProductID,
		Type:        req.Type,
		PricePaid:   req.PricePaid,
		PurchasedAt: now,
		UpdatedAt:   now,
	})
}

// Purchase reconciles a direct purchase request.
func (svc *Service) Purchase(ctx context.Context, np NewPurchase) (ReconcileResult, error) {
	if np.ExistingPurchaseID != "" {
		ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
		existing, err := svc.entitlements.GetEntitlementByID(ctx, np.ExistingPurchaseID)
		cancel()
		if err != nil {
			return ReconcileResult{}, errors.Wrap(err, "getting existing purchase")
		}
		if existing.UserID != np.UserID || existing.ProductID != np.ProductID {
			return ReconcileResult{}, errors.Wrap(core.ErrNotFound, errExistingMismatched.Error())
		}
	}

	var price float64
	if np.PricePaid != nil {
		price = *np.PricePaid
	}
	return svc.Reconcile(ctx, ReconcileRequest{
		UserID:    np.UserID,
		ProductID: np.ProductID,
		Type:      np.PurchaseType,
		PricePaid: price,
		Upgrade:   np.UpgradeExisting,
		Email:     np.Email,
	})
}

// VerifyAndReconcile is the client-side fallback for a webhook that may not have landed yet.
// It only grants access once a completed payment exists; otherwise the result is Pending.
// The granted type comes from the recorded payment's order id, never from vp.OrderID.
func (svc *Service) VerifyAndReconcile(ctx context.Context, vp VerifyPurchase) (VerifyResult, error) {
	ent, err := svc.getEntitlement(ctx, vp.UserID, vp.ProductID)
	if err == nil {
		return VerifyResult{ReconcileResult: ReconcileResult{EntitlementID: ent.ID, Type: ent.Type}}, nil
	}
	if errors.Cause(err) != core.ErrNotFound {
		return VerifyResult{}, errors.Wrap(err, "getting entitlement")
	}

	pctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	payment, err := svc.payments.LatestCompletedPayment(pctx, vp.UserID, vp.ProductID)
	cancel()
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return VerifyResult{Pending: true}, nil
		}
		return VerifyResult{}, errors.Wrap(err, "getting completed payment")
	}

	res, err := svc.Reconcile(ctx, ReconcileRequest{
		UserID:    vp.UserID,
		ProductID: vp.ProductID,
		Type:      ParseOrderType(payment.GatewayOrderID),
		PricePaid: payment.Amount,
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{ReconcileResult: res}, nil
}

// HandlePaymentEvent records a gateway event and, once the payment completed, grants the entitlement.
// An order for "both" upgrades an existing single-form entitlement.
func (svc *Service) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) (PaymentResult, error) {
	now := svc.now()
	pctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	rec, err := svc.payments.RecordPayment(pctx, PaymentRecord{
		UserID:         ev.UserID,
		ProductID:      ev.ProductID,
		ProductKind:    ev.ProductKind,
		Amount:         ev.Amount,
		Status:         ev.Status,
		GatewayOrderID: ev.OrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	cancel()
	if err != nil {
		return PaymentResult{}, errors.Wrap(err, "recording payment")
	}

	result := PaymentResult{Payment: rec}
	if rec.Status != PaymentCompleted {
		return result, nil
	}

	typ := ParseOrderType(rec.GatewayOrderID)
	res, err := svc.Reconcile(ctx, ReconcileRequest{
		UserID:    rec.UserID,
		ProductID: rec.ProductID,
		Type:      typ,
		PricePaid: rec.Amount,
		Upgrade:   typ == TypeBoth,
		Email:     ev.Email,
	})
	if err != nil {
		return PaymentResult{}, err
	}
	result.Reconcile = &res
	return result, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Entitlement, error) {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.entitlements.GetEntitlementByID(ctx, id)
}

func (svc *Service) List(ctx context.Context, userID string) ([]Entitlement, error) {
	ctx, cancel := core.WithTimeout(ctx, svc.queryTimeout)
	defer cancel()
	return svc.entitlements.ListEntitlements(ctx, userID)
}
