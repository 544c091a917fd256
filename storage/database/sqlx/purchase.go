package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/purchase"
)

type entitlementRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	ProductID   string    `db:"product_id"`
	Type        string    `db:"type"`
	PricePaid   float64   `db:"price_paid"`
	PurchasedAt time.Time `db:"purchased_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r entitlementRow) toEntitlement() purchase.Entitlement {
	return purchase.Entitlement{
		ID:          r.ID,
		UserID:      r.UserID,
		ProductID:   r.ProductID,
		Type:        purchase.Type(r.Type),
		PricePaid:   r.PricePaid,
		PurchasedAt: r.PurchasedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const entitlementColumns = "id, user_id, product_id, type, price_paid, purchased_at, updated_at"

type entitlementRepository struct {
	db *sqlx.DB
}

func NewEntitlementRepository(db *sqlx.DB) purchase.EntitlementRepository {
	return &entitlementRepository{db: db}
}

func (repo *entitlementRepository) get(ctx context.Context, where string, args ...interface{}) (purchase.Entitlement, error) {
	var row entitlementRow
	q := "SELECT " + entitlementColumns + " FROM purchases WHERE " + where
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return purchase.Entitlement{}, translate(err)
	}
	return row.toEntitlement(), nil
}

func (repo *entitlementRepository) GetEntitlement(ctx context.Context, userID, productID string) (purchase.Entitlement, error) {
	return repo.get(ctx, "user_id = $1 AND product_id = $2", userID, productID)
}

func (repo *entitlementRepository) GetEntitlementByID(ctx context.Context, id string) (purchase.Entitlement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return purchase.Entitlement{}, core.ErrNotFound
	}
	return repo.get(ctx, "id = $1", id)
}

func (repo *entitlementRepository) ListEntitlements(ctx context.Context, userID string) ([]purchase.Entitlement, error) {
	var rows []entitlementRow
	q := "SELECT " + entitlementColumns + " FROM purchases WHERE user_id = $1 ORDER BY purchased_at DESC"
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "selecting purchases")
	}
	ents := make([]purchase.Entitlement, 0, len(rows))
	for _, r := range rows {
		ents = append(ents, r.toEntitlement())
	}
	return ents, nil
}

func (repo *entitlementRepository) InsertEntitlement(ctx context.Context, ent purchase.Entitlement) (purchase.Entitlement, error) {
	ent.ID = uuid.New().String()
	row := entitlementRow{
		ID:          ent.ID,
		UserID:      ent.UserID,
		ProductID:   ent.ProductID,
		Type:        string(ent.Type),
		PricePaid:   ent.PricePaid,
		PurchasedAt: ent.PurchasedAt,
		UpdatedAt:   ent.UpdatedAt,
	}
	q := `INSERT INTO purchases (` + entitlementColumns + `)
		VALUES (:id, :user_id, :product_id, :type, :price_paid, :purchased_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return purchase.Entitlement{}, translate(err)
	}
	return ent, nil
}

func (repo *entitlementRepository) UpgradeEntitlement(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE purchases SET type = $1, updated_at = $2 WHERE id = $3 AND type <> $1",
		string(purchase.TypeBoth), at, id,
	)
	if err != nil {
		return false, errors.Wrap(err, "upgrading purchase")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "upgrading purchase")
	}
	return n == 1, nil
}

type paymentRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	ProductID      string    `db:"product_id"`
	ProductKind    string    `db:"product_kind"`
	Amount         float64   `db:"amount"`
	Status         string    `db:"status"`
	GatewayOrderID string    `db:"gateway_order_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r paymentRow) toRecord() purchase.PaymentRecord {
	return purchase.PaymentRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		ProductID:      r.ProductID,
		ProductKind:    purchase.ProductKind(r.ProductKind),
		Amount:         r.Amount,
		Status:         purchase.PaymentStatus(r.Status),
		GatewayOrderID: r.GatewayOrderID,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const paymentColumns = "id, user_id, product_id, product_kind, amount, status, gateway_order_id, created_at, updated_at"

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) purchase.PaymentRepository {
	return &paymentRepository{db: db}
}

// RecordPayment upserts on gateway_order_id. The WHERE clause keeps completed records immutable;
// when it filters the update out, RETURNING yields nothing and the stored row is read back.
func (repo *paymentRepository) RecordPayment(ctx context.Context, rec purchase.PaymentRecord) (purchase.PaymentRecord, error) {
	row := paymentRow{
		ID:             uuid.New().String(),
		UserID:         rec.UserID,
		ProductID:      rec.ProductID,
		ProductKind:    string(rec.ProductKind),
		Amount:         rec.Amount,
		Status:         string(rec.Status),
		GatewayOrderID: rec.GatewayOrderID,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	q := `INSERT INTO payment_records (` + paymentColumns + `)
		VALUES (:id, :user_id, :product_id, :product_kind, :amount, :status, :gateway_order_id, :created_at, :updated_at)
		ON CONFLICT (gateway_order_id) DO UPDATE
			SET status = EXCLUDED.status, amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
			WHERE payment_records.status <> 'completed'
		RETURNING ` + paymentColumns

	q, args, err := repo.db.BindNamed(q, row)
	if err != nil {
		return purchase.PaymentRecord{}, errors.Wrap(err, "binding payment record")
	}
	var saved paymentRow
	err = repo.db.GetContext(ctx, &saved, q, args...)
	if translate(err) == core.ErrNotFound {
		err = repo.db.GetContext(ctx, &saved,
			"SELECT "+paymentColumns+" FROM payment_records WHERE gateway_order_id = $1", rec.GatewayOrderID)
	}
	if err != nil {
		return purchase.PaymentRecord{}, errors.Wrap(err, "recording payment")
	}
	return saved.toRecord(), nil
}

func (repo *paymentRepository) LatestCompletedPayment(ctx context.Context, userID, productID string) (purchase.PaymentRecord, error) {
	var row paymentRow
	q := "SELECT " + paymentColumns + ` FROM payment_records
		WHERE user_id = $1 AND product_id = $2 AND status = 'completed'
		ORDER BY created_at DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, userID, productID); err != nil {
		return purchase.PaymentRecord{}, translate(err)
	}
	return row.toRecord(), nil
}
