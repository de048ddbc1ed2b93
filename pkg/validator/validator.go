package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var identifierRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

		if name == "-" {
			return ""
		}

		return name
	})

	// room and participant ids end up in redis keys and channel names
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRegexp.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) ([]ValidationError, bool) {
	if err := v.validate.Struct(i); err != nil {
		return v.convert(err), false
	}

	return nil, true
}

// ValidateVar validates a single value, reporting it under field.
func (v *Validator) ValidateVar(field string, value any, tag string) ([]ValidationError, bool) {
	if err := v.validate.Var(value, tag); err != nil {
		errs := v.convert(err)
		for i := range errs {
			errs[i].Field = field
			errs[i].Message = strings.Replace(errs[i].Message, "value", field, 1)
		}
		return errs, false
	}

	return nil, true
}

func (v *Validator) convert(err error) []ValidationError {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Code: "INVALID", Message: err.Error()}}
	}

	errors := make([]ValidationError, 0, len(validationErrors))
	for _, err := range validationErrors {
		field := err.Field()
		if field == "" {
			field = "value"
		}

		var message string
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s", field, err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "identifier":
			message = fmt.Sprintf("%s may only contain letters, digits, '-' and '_'", field)
		default:
			message = fmt.Sprintf("%s is invalid", field)
		}

		errors = append(errors, ValidationError{
			Field:   field,
			Code:    strings.ToUpper(err.Tag()),
			Message: message,
		})
	}

	return errors
}
