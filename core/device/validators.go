package device

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

var (
	fingerprintTag   = "fingerprint"
	fingerprintText  = "invalid device fingerprint"
	fingerprintRegex = regexp.MustCompile(`^[A-Za-z0-9._:+/=-]{8,255}$`)
)

// InitValidators registers the device validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(fingerprintTag, fingerprintValidation)
	core.RegisterCustomTranslation(validate, translator, fingerprintTag, fingerprintText)
}

// fingerprintValidation accepts opaque client hashes: 8 to 255 url/base64-safe characters.
func fingerprintValidation(fl validator.FieldLevel) bool {
	return fingerprintRegex.MatchString(fl.Field().String())
}
