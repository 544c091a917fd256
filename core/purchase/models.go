package purchase

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

// Type is the form in which a product is granted.
type Type string

const (
	TypeDigital  Type = "digital"
	TypePhysical Type = "physical"
	TypeBoth     Type = "both"
)

var AllTypes = []Type{TypeDigital, TypePhysical, TypeBoth}

func (t Type) IsValid() bool {
	switch t {
	case TypeDigital, TypePhysical, TypeBoth:
		return true
	}
	return false
}

type ProductKind string

const (
	ProductBook   ProductKind = "book"
	ProductCourse ProductKind = "course"
)

func (k ProductKind) IsValid() bool {
	return k == ProductBook || k == ProductCourse
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// Entitlement grants a user access to a product. There is at most one per (UserID, ProductID).
type Entitlement struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ProductID   string    `json:"productId"`
	Type        Type      `json:"type"`
	PricePaid   float64   `json:"pricePaid"`
	PurchasedAt time.Time `json:"purchasedAt"` // UTC
	UpdatedAt   time.Time `json:"updatedAt"`   // UTC
}

// PaymentRecord logs a gateway payment attempt. Immutable once completed.
type PaymentRecord struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	ProductID      string        `json:"productId"`
	ProductKind    ProductKind   `json:"productKind"`
	Amount         float64       `json:"amount"`
	Status         PaymentStatus `json:"status"`
	GatewayOrderID string        `json:"gatewayOrderId"`
	CreatedAt      time.Time     `json:"createdAt"` // UTC
	UpdatedAt      time.Time     `json:"updatedAt"` // UTC
}

type ReconcileRequest struct {
	UserID    string
	ProductID string
	Type      Type
	PricePaid float64
	Upgrade   bool
	Email     string // optional; only used for the confirmation email
}

type ReconcileResult struct {
	EntitlementID string
	Type          Type
	Created       bool
	Upgraded      bool
}

// Changed reports whether the reconciliation wrote anything.
func (r ReconcileResult) Changed() bool { return r.Created || r.Upgraded }

type VerifyResult struct {
	ReconcileResult
	Pending bool
}

// NewPurchase is the body of a direct purchase request.
type NewPurchase struct {
	ProductID          string   `json:"productId" validate:"required,notblank"`
	UserID             string   `json:"userId" validate:"required,notblank"`
	PurchaseType       Type     `json:"purchaseType" validate:"required,purchasetype"`
	PricePaid          *float64 `json:"pricePaid" validate:"omitempty,gte=0"`
	UpgradeExisting    bool     `json:"upgradeExisting"`
	ExistingPurchaseID string   `json:"existingPurchaseId"`
	Email              string   `json:"email" validate:"omitempty,email"`
}

func (np *NewPurchase) Validate(validate *validator.Validate) error {
	np.ProductID = core.CleanString(np.ProductID)
	np.UserID = core.CleanString(np.UserID)
	np.ExistingPurchaseID = core.CleanString(np.ExistingPurchaseID)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.PurchaseType = Type(core.CleanString(string(np.PurchaseType), true /* lower */))
	return validate.Struct(np)
}

// VerifyPurchase is the body of the client-side fallback check.
type VerifyPurchase struct {
	ProductID    string `json:"productId" validate:"required,notblank"`
	UserID       string `json:"userId" validate:"required,notblank"`
	OrderID      string `json:"orderId" validate:"required,notblank"`
	PaymentToken string `json:"paymentToken"`
}

func (vp *VerifyPurchase) Validate(validate *validator.Validate) error {
	vp.ProductID = core.CleanString(vp.ProductID)
	vp.UserID = core.CleanString(vp.UserID)
	vp.OrderID = core.CleanString(vp.OrderID)
	return validate.Struct(vp)
}

// PaymentEvent is a gateway notification, already authenticated and normalized at the webhook boundary.
type PaymentEvent struct {
	OrderID     string        `json:"orderId" validate:"required,notblank"`
	UserID      string        `json:"userId" validate:"required,notblank"`
	ProductID   string        `json:"productId" validate:"required,notblank"`
	ProductKind ProductKind   `json:"productKind" validate:"required,productkind"`
	Amount      float64       `json:"amount" validate:"gte=0"`
	Status      PaymentStatus `json:"status" validate:"required,paymentstatus"`
	Email       string        `json:"email" validate:"omitempty,email"`
}

func (ev *PaymentEvent) Validate(validate *validator.Validate) error {
	ev.OrderID = core.CleanString(ev.OrderID)
	ev.UserID = core.CleanString(ev.UserID)
	ev.ProductID = core.CleanString(ev.ProductID)
	ev.Email = core.CleanString(ev.Email, true /* lower */)
	ev.ProductKind = ProductKind(core.CleanString(string(ev.ProductKind), true /* lower */))
	ev.Status = PaymentStatus(core.CleanString(string(ev.Status), true /* lower */))
	return validate.Struct(ev)
}

type PaymentResult struct {
	Payment   PaymentRecord
	Reconcile *ReconcileResult // nil unless the payment completed
}
