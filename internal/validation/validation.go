// Package validation provides input validation for the fraudwatch API.
//
// Struct-level rules are expressed as go-playground/validator tags; ad hoc
// checks use the small combinators below. Both produce ValidationErrors.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// Channels accepted on submitted transactions.
var Channels = []string{"Web App", "Mobile App", "API"}

var (
	ipv4Regex = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the custom tags registered:
// "ipv4like" (dotted quad shape) and "channel" (one of Channels).
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("ipv4like", func(fl validator.FieldLevel) bool {
			return IsValidIPv4(fl.Field().String())
		})
		_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
			return IsValidChannel(fl.Field().String())
		})
		v.RegisterTagNameFunc(jsonFieldName)
		validate = v
	})
	return validate
}

// Struct validates s against its `validate` tags.
func Struct(s any) ValidationErrors {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "ipv4like":
		return "must be a valid IP address"
	case "channel":
		return "must be one of: " + strings.Join(Channels, ", ")
	default:
		return "is invalid"
	}
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIPv4 checks the dotted-quad shape with each octet ≤ 255.
func IsValidIPv4(s string) bool {
	if !ipv4Regex.MatchString(s) {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		n := 0
		for _, c := range part {
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// IsValidChannel reports whether s is an accepted channel.
func IsValidChannel(s string) bool {
	for _, c := range Channels {
		if s == c {
			return true
		}
	}
	return false
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Field + ": " + ve.Message
	}
	return strings.Join(parts, "; ")
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NonNegativeAmount rejects negative amounts.
func NonNegativeAmount(field string, amount decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if amount.IsNegative() {
			return &ValidationError{Field: field, Message: "must be a positive number"}
		}
		return nil
	}
}

// OneOf checks value against an allowed set. Empty values pass.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}
