package validator

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	// ErrEmptyEmail indicates email is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates email is not a bare address
	ErrInvalidEmail = errors.New("email must be a valid address")
)

// ValidateEmail checks that email is a bare address (no display name) with a
// dotted domain and returns it trimmed
func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", ErrInvalidEmail
	}

	return email, nil
}
