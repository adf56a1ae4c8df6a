package session

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

var (
	chatTypeTag  = "chat_type"
	chatTypeText = "invalid message type"
)

// InitValidators registers the session validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(chatTypeTag, chatTypeValidation)
	core.RegisterCustomTranslation(validate, translator, chatTypeTag, chatTypeText)
}

func chatTypeValidation(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ChatText, ChatSystem, ChatAnnouncement:
		return true
	default:
		return false
	}
}
