package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/purchase"
)

type entitlementRepository struct {
	db *purchaseTable
}

func NewEntitlementRepository(db *DB) purchase.EntitlementRepository {
	return &entitlementRepository{db: db.purchases}
}

func (repo *entitlementRepository) GetEntitlement(_ context.Context, userID, productID string) (purchase.Entitlement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if id, ok := repo.db.byKey[purchaseKey{userID, productID}]; ok {
		return *repo.db.table[id], nil
	}
	return purchase.Entitlement{}, core.ErrNotFound
}

func (repo *entitlementRepository) GetEntitlementByID(_ context.Context, id string) (purchase.Entitlement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ent, ok := repo.db.table[id]; ok {
		return *ent, nil
	}
	return purchase.Entitlement{}, core.ErrNotFound
}

func (repo *entitlementRepository) ListEntitlements(_ context.Context, userID string) ([]purchase.Entitlement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ents := make([]purchase.Entitlement, 0)
	for _, ent := range repo.db.table {
		if ent.UserID == userID {
			ents = append(ents, *ent)
		}
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].PurchasedAt.After(ents[j].PurchasedAt) })
	return ents, nil
}

func (repo *entitlementRepository) InsertEntitlement(_ context.Context, ent purchase.Entitlement) (purchase.Entitlement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := purchaseKey{ent.UserID, ent.ProductID}
	if _, ok := repo.db.byKey[key]; ok {
		return purchase.Entitlement{}, core.ErrConflict
	}
	ent.ID = uuid.New().String()
	repo.db.table[ent.ID] = &ent
	repo.db.byKey[key] = ent.ID
	return ent, nil
}

func (repo *entitlementRepository) UpgradeEntitlement(_ context.Context, id string, at time.Time) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ent, ok := repo.db.table[id]
	if !ok || ent.Type == purchase.TypeBoth {
		return false, nil
	}
	ent.Type = purchase.TypeBoth
	ent.UpdatedAt = at
	return true, nil
}

type paymentRepository struct {
	db *paymentTable
}

func NewPaymentRepository(db *DB) purchase.PaymentRepository {
	return &paymentRepository{db: db.payments}
}

func (repo *paymentRepository) RecordPayment(_ context.Context, rec purchase.PaymentRecord) (purchase.PaymentRecord, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if id, ok := repo.db.byOrder[rec.GatewayOrderID]; ok {
		existing := repo.db.table[id]
		if existing.Status != purchase.PaymentCompleted {
			existing.Status = rec.Status
			existing.Amount = rec.Amount
			existing.UpdatedAt = rec.UpdatedAt
		}
		return *existing, nil
	}
	rec.ID = uuid.New().String()
	repo.db.table[rec.ID] = &rec
	repo.db.byOrder[rec.GatewayOrderID] = rec.ID
	return rec, nil
}

func (repo *paymentRepository) LatestCompletedPayment(_ context.Context, userID, productID string) (purchase.PaymentRecord, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var latest *purchase.PaymentRecord
	for _, rec := range repo.db.table {
		if rec.UserID != userID || rec.ProductID != productID || rec.Status != purchase.PaymentCompleted {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return purchase.PaymentRecord{}, core.ErrNotFound
	}
	return *latest, nil
}
