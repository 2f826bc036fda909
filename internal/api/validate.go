package api

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

var datacenterRE = regexp.MustCompile(`^[a-z]{3}[0-9]*$`)

// NewValidator creates a Validate instance for wire-level request shapes.
// Validation messages reference JSON field names rather than Go field names.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		tagValue := field.Tag.Get("json")
		if tagValue == "-" {
			return ""
		}
		fieldName, _, _ := strings.Cut(tagValue, ",")
		return fieldName
	})

	err := validate.RegisterValidation("datacenter", func(fl validator.FieldLevel) bool {
		return datacenterRE.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}

	return validate
}

// ValidationMessage flattens a validator error into a single human-readable
// message suitable for the error envelope.
func ValidationMessage(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		var message string
		switch fieldErr.Tag() {
		case "required":
			message = fmt.Sprintf("field %q is required", fieldErr.Field())
		case "min":
			message = fmt.Sprintf("field %q must be at least %s", fieldErr.Field(), fieldErr.Param())
		case "max":
			message = fmt.Sprintf("field %q must be at most %s", fieldErr.Field(), fieldErr.Param())
		case "oneof":
			message = fmt.Sprintf("field %q must be one of: %s", fieldErr.Field(), fieldErr.Param())
		case "datacenter":
			message = fmt.Sprintf("field %q must contain lowercase datacenter codes", fieldErr.Field())
		default:
			message = fmt.Sprintf("field %q is invalid", fieldErr.Field())
		}
		messages = append(messages, message)
	}

	return strings.Join(messages, "; ")
}
