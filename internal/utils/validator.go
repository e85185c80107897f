// Package utils provides utility functions used throughout the application.
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// roomCodeRegex defines the shareable room code alphabet: uppercase
	// alphanumerics with the ambiguous characters 0, O, 1 and I removed.
	roomCodeRegex = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)
)

// Initialize validator with custom validations
func init() {
	validate = validator.New()

	// Register function to get tag name from json tags
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validation functions
	_ = validate.RegisterValidation("room_code", validateRoomCode)
}

// Validate performs validation on the given struct and returns validation errors.
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidateVar validates a single variable with the given tag and returns errors.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}

// FormatValidationErrors converts validator errors into a field→message map.
func FormatValidationErrors(err error) map[string]string {
	result := make(map[string]string)

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		result["general"] = err.Error()
		return result
	}

	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			result[e.Field()] = "This field is required"
		case "min":
			result[e.Field()] = "Value must be greater than or equal to " + e.Param()
		case "max":
			result[e.Field()] = "Value must be less than or equal to " + e.Param()
		case "len":
			result[e.Field()] = "Length must be exactly " + e.Param()
		case "oneof":
			result[e.Field()] = "Must be one of: " + e.Param()
		case "uuid":
			result[e.Field()] = "Must be a valid UUID"
		case "room_code":
			result[e.Field()] = "Must be a 6 character room code"
		default:
			result[e.Field()] = "Failed validation: " + e.Tag()
		}
	}

	return result
}

// validateRoomCode checks that a value is a well-formed shareable room code.
func validateRoomCode(fl validator.FieldLevel) bool {
	return roomCodeRegex.MatchString(fl.Field().String())
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	return validate
}
