// Package validator provides a small fluent builder for the batch-shape
// checks that sit in front of the ingestion service, as distinct from the
// precompiled, allocation-free per-event checks in ingest/validate.go.
package validator

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError represents a single field-level validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}

	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}

	return strings.Join(messages, "; ")
}

// HasErrors returns true if there are validation errors
func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

// Add adds a validation error
func (errs *ValidationErrors) Add(field, message string, value ...string) {
	err := ValidationError{
		Field:   field,
		Message: message,
	}
	if len(value) > 0 {
		err.Value = value[0]
	}
	*errs = append(*errs, err)
}

// Validator accumulates field errors across a chain of checks.
type Validator struct {
	errors ValidationErrors
}

// New creates a new validator instance
func New() *Validator {
	return &Validator{}
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return v.errors.HasErrors()
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// Required validates that a field is not empty
func (v *Validator) Required(field string, value interface{}, message ...string) *Validator {
	msg := "is required"
	if len(message) > 0 {
		msg = message[0]
	}

	if isEmpty(value) {
		v.errors.Add(field, msg, fmt.Sprintf("%v", value))
	}

	return v
}

// Max validates maximum numeric value
func (v *Validator) Max(field string, value int, max int, message ...string) *Validator {
	msg := fmt.Sprintf("must not exceed %d", max)
	if len(message) > 0 {
		msg = message[0]
	}

	if value > max {
		v.errors.Add(field, msg, fmt.Sprintf("%v", value))
	}

	return v
}

// Min validates minimum numeric value
func (v *Validator) Min(field string, value int, min int, message ...string) *Validator {
	msg := fmt.Sprintf("must be at least %d", min)
	if len(message) > 0 {
		msg = message[0]
	}

	if value < min {
		v.errors.Add(field, msg, fmt.Sprintf("%v", value))
	}

	return v
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String:
		return strings.TrimSpace(v.String()) == ""
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr:
		return v.IsNil()
	default:
		return false
	}
}
