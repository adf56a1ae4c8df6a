package media

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

var (
	directionTag  = "direction"
	directionText = "direction must be one of send or recv"

	mediaKindTag  = "media_kind"
	mediaKindText = "kind must be one of audio or video"
)

// InitValidators registers the media validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(directionTag, directionValidation)
	core.RegisterCustomTranslation(validate, translator, directionTag, directionText)

	_ = validate.RegisterValidation(mediaKindTag, mediaKindValidation)
	core.RegisterCustomTranslation(validate, translator, mediaKindTag, mediaKindText)
}

func directionValidation(fl validator.FieldLevel) bool {
	switch Direction(fl.Field().String()) {
	case DirectionSend, DirectionRecv:
		return true
	default:
		return false
	}
}

func mediaKindValidation(fl validator.FieldLevel) bool {
	switch Kind(fl.Field().String()) {
	case KindAudio, KindVideo:
		return true
	default:
		return false
	}
}
