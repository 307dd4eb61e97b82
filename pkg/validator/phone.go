package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is outside 7-15 digits
	ErrInvalidLength = errors.New("phone number must have between 7 and 15 digits")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// phoneRegex matches an optional leading + followed by digits
var phoneRegex = regexp.MustCompile(`^\+?\d+$`)

// separators removed before validation
var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a traveler phone number in local or international form.
// Accepts 9841000000, +977 984-1000000 or (01) 5550123.
// Returns the sanitized number (optional + and digits) and error if invalid.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	digits := len(strings.TrimPrefix(sanitized, "+"))
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// Sanitize removes spaces, dashes, dots and parentheses
func (v *PhoneValidator) Sanitize(phone string) string {
	return phoneSeparators.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
