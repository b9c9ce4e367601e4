package measurement

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator with the measurement tags registered
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Use JSON tag names for field names in errors
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})

		_ = v.RegisterValidation("technique", func(fl validator.FieldLevel) bool {
			return Technique(fl.Field().String()).IsValid()
		})

		validate = v
	})
	return validate
}

// ValidationDetail describes one invalid field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a measurement
type ValidationError struct {
	Details []ValidationDetail `json:"details"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match shared.ErrInvalidInput
func (e *ValidationError) Is(target error) bool {
	return target == shared.ErrInvalidInput
}

// Validate checks metadata and provenance constraints
func (m *Measurement) Validate() error {
	var details []ValidationDetail
	for _, s := range []any{m.Metadata, m.Provenance} {
		details = append(details, validateStruct(s)...)
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

func validateStruct(s any) []ValidationDetail {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationDetail{{Message: err.Error()}}
	}
	details := make([]ValidationDetail, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, ValidationDetail{
			Field:   e.Namespace(),
			Message: validationMessage(e),
		})
	}
	return details
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "hexadecimal":
		return "Must be hexadecimal"
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "technique":
		return "Unknown technique"
	default:
		return "Invalid value"
	}
}
