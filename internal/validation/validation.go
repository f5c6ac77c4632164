// Package validation configures the shared request validator.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var msisdnPattern = regexp.MustCompile(`^254[0-9]{9}$`)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the process-wide validator. Field names in errors are
// taken from json tags, decimals validate as float64, and "msisdn" checks
// Kenyan 254XXXXXXXXX numbers and "whole" rejects fractional amounts.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			switch d := field.Interface().(type) {
			case decimal.Decimal:
				f, _ := d.Float64()
				return f
			case decimal.NullDecimal:
				if !d.Valid {
					return nil
				}
				f, _ := d.Decimal.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{}, decimal.NullDecimal{})
		_ = v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
			return ValidMSISDN(fl.Field().String())
		})
		_ = v.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
			switch f := fl.Field(); f.Kind() {
			case reflect.Float32, reflect.Float64:
				return f.Float() == math.Trunc(f.Float())
			default:
				return true
			}
		})
		validate = v
	})
	return validate
}

// Struct validates s.
func Struct(s any) error {
	return Validator().Struct(s)
}

// ValidMSISDN reports whether s is a 254XXXXXXXXX number.
func ValidMSISDN(s string) bool {
	return msisdnPattern.MatchString(s)
}

// FieldErrors unwraps validator errors; nil when err is of another kind.
func FieldErrors(err error) validator.ValidationErrors {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

// Message renders err as a single human readable sentence.
func Message(err error) string {
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, fe := range fields {
		parts = append(parts, describe(fe))
	}
	return strings.Join(parts, "; ")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "msisdn":
		return fmt.Sprintf("%s must use format 254XXXXXXXXX", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "whole":
		return fmt.Sprintf("%s must be a whole number", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
