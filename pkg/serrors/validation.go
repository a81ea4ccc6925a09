package serrors

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	BaseError
	Field string
}

func NewFieldRequiredError(field, localeKey string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Code:      "FIELD_REQUIRED",
			Message:   fmt.Sprintf("%s is required", field),
			LocaleKey: localeKey,
		},
		Field: field,
	}
}

// ProcessValidatorErrors flattens go-playground validator output into coded
// per-field errors.
func ProcessValidatorErrors(err error) []*ValidationError {
	validatorErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make([]*ValidationError, 0, len(validatorErrs))
	for _, fe := range validatorErrs {
		out = append(out, &ValidationError{
			BaseError: BaseError{
				Code:    "FIELD_INVALID",
				Message: fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()),
			},
			Field: fe.Field(),
		})
	}
	return out
}
