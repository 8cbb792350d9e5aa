package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/imagestudio/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("operation_kind", func(fl validator.FieldLevel) bool {
		return models.OperationKind(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("model_variant", func(fl validator.FieldLevel) bool {
		switch models.ModelVariant(fl.Field().String()) {
		case models.ModelSeedream, models.ModelNanoBanana:
			return true
		}
		return false
	})
}

// Validate checks s and returns field name to message, or nil when s is valid.
func Validate(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "This field is required"
		case "operation_kind":
			out[field] = "Must be one of standard, hd, pro"
		case "model_variant":
			out[field] = "Must be one of seedream, nano-banana"
		case "gt":
			out[field] = "Must be greater than " + fe.Param()
		case "gte":
			out[field] = "Must be at least " + fe.Param()
		case "max":
			out[field] = "Must be at most " + fe.Param() + " characters"
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}
