package models

import (
	"fmt"
	"strings"
)

// ValidationError names the intent fields that are missing or malformed
type ValidationError struct {
	Message string
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	return strings.Join(parts, "; ")
}

// HasErrors reports whether any field problem was recorded
func (e *ValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0 || e.Message != ""
}

// Fields returns missing then invalid field names
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Missing)+len(e.Invalid))
	fields = append(fields, e.Missing...)
	return append(fields, e.Invalid...)
}

// AmountMismatchError is returned when the gateway total differs from the intent amount
type AmountMismatchError struct {
	Expected int64
	Received int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", e.Expected, e.Received)
}

// NotFoundError is returned when a referenced record does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
