package purchase

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

var (
	purchaseTypeTag  = "purchasetype"
	purchaseTypeText = "{0} must be one of digital, physical or both"

	productKindTag  = "productkind"
	productKindText = "{0} must be one of book or course"

	paymentStatusTag  = "paymentstatus"
	paymentStatusText = "{0} must be one of pending, completed or failed"
)

// InitValidators registers the purchase validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, purchaseTypeTag, purchaseTypeText,
		func(s string) bool { return Type(s).IsValid() })
	core.RegisterEnumValidation(validate, translator, productKindTag, productKindText,
		func(s string) bool { return ProductKind(s).IsValid() })
	core.RegisterEnumValidation(validate, translator, paymentStatusTag, paymentStatusText,
		func(s string) bool { return PaymentStatus(s).IsValid() })
}
