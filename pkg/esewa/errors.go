package esewa

import (
	"errors"
	"fmt"
)

// ErrMissingSecretKey is returned when the signer is built without a key
var ErrMissingSecretKey = errors.New("esewa secret key is required")

// ConfigurationError marks a fatal misconfiguration (missing key, broken
// amount arithmetic). It is never retried.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("esewa configuration error: %s: %v", e.Message, e.Err)
	}
	return "esewa configuration error: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError is returned for bad caller input to the client (bad redirect URLs, non-positive amounts)
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DecodeError is returned when the callback payload cannot be decoded
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode esewa response: %s: %v", e.Message, e.Err)
	}
	return "failed to decode esewa response: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

// VerificationKind distinguishes why a transaction could not be verified
type VerificationKind string

const (
	VerificationNetwork     VerificationKind = "network"
	VerificationProtocol    VerificationKind = "protocol"
	VerificationNotFound    VerificationKind = "not_found"
	VerificationNotComplete VerificationKind = "not_complete"
	VerificationSignature   VerificationKind = "signature"
)

// VerificationError is returned by the status check and by inbound signature checks
type VerificationError struct {
	Kind       VerificationKind
	StatusCode int    // HTTP status from the gateway, 0 when no response
	Status     string // gateway-reported status for not_complete
	Message    string
	Err        error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("esewa verification failed (%s): %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }
