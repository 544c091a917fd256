package notification

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

var (
	notifTypeTag  = "notiftype"
	notifTypeText = "{0} is not a valid notification type"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, notifTypeTag, notifTypeText,
		func(s string) bool { return Type(s).IsValid() })
}
