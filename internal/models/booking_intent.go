package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Intent field names as they travel in the redirect URL
const (
	FieldBookingReference = "booking_reference"
	FieldTravelerID       = "traveler_id"
	FieldTravelerName     = "traveler_name"
	FieldTravelerEmail    = "traveler_email"
	FieldTravelerPhone    = "traveler_phone"
	FieldTravelerAddress  = "traveler_address"
	FieldPackageID        = "package_id"
	FieldPaymentAmount    = "payment_amount"
	FieldIntentToken      = "intent_token"
	FieldIntentRef        = "intent_ref"
)

// BookingIntent is a pending booking carried through the gateway round trip.
// Either TravelerID or all four new-traveler fields are set, never both.
type BookingIntent struct {
	BookingReference string  `json:"booking_reference"`
	TravelerID       *int64  `json:"traveler_id,omitempty"`
	TravelerName     string  `json:"traveler_name,omitempty"`
	TravelerEmail    string  `json:"traveler_email,omitempty"`
	TravelerPhone    string  `json:"traveler_phone,omitempty"`
	TravelerAddress  string  `json:"traveler_address,omitempty"`
	PackageID        int64   `json:"package_id"`
	PaymentAmount    float64 `json:"payment_amount"`
}

// CreateBookingRequest is the body of POST /bookings/esewa
type CreateBookingRequest struct {
	TravelerID      *int64  `json:"traveler_id"`
	TravelerName    string  `json:"traveler_name"`
	TravelerEmail   string  `json:"traveler_email"`
	TravelerPhone   string  `json:"traveler_phone"`
	TravelerAddress string  `json:"traveler_address"`
	PackageID       int64   `json:"package_id"`
	PaymentAmount   float64 `json:"payment_amount"`
}

// ToIntent converts the request into an intent with the given reference
func (r *CreateBookingRequest) ToIntent(reference string) *BookingIntent {
	return &BookingIntent{
		BookingReference: reference,
		TravelerID:       r.TravelerID,
		TravelerName:     strings.TrimSpace(r.TravelerName),
		TravelerEmail:    strings.TrimSpace(r.TravelerEmail),
		TravelerPhone:    strings.TrimSpace(r.TravelerPhone),
		TravelerAddress:  strings.TrimSpace(r.TravelerAddress),
		PackageID:        r.PackageID,
		PaymentAmount:    r.PaymentAmount,
	}
}

// InitiateBookingResponse is returned to the client before redirecting to eSewa
type InitiateBookingResponse struct {
	PaymentURL       string            `json:"payment_url"`
	FormData         map[string]string `json:"form_data"`
	BookingReference string            `json:"booking_reference"`
	TransactionUUID  string            `json:"transaction_uuid"`
	PackageID        int64             `json:"package_id"`
	PackageTitle     string            `json:"package_title"`
	Amount           float64           `json:"amount"`
}

// NewBookingReference returns "BK" followed by 10 upper-case hex characters
func NewBookingReference() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate booking reference: %w", err)
	}
	return "BK" + strings.ToUpper(hex.EncodeToString(b)), nil
}

// HasTravelerID reports whether the intent points at an existing traveler
func (i *BookingIntent) HasTravelerID() bool {
	return i.TravelerID != nil
}

// Validate checks the traveler XOR rule and the package/amount fields.
// Missing fields are reported in a fixed order.
func (i *BookingIntent) Validate() error {
	verr := &ValidationError{}

	details := []struct {
		name  string
		value string
	}{
		{FieldTravelerName, i.TravelerName},
		{FieldTravelerEmail, i.TravelerEmail},
		{FieldTravelerPhone, i.TravelerPhone},
		{FieldTravelerAddress, i.TravelerAddress},
	}
	var missingDetails []string
	for _, d := range details {
		if strings.TrimSpace(d.value) == "" {
			missingDetails = append(missingDetails, d.name)
		}
	}

	switch {
	case i.TravelerID != nil && *i.TravelerID <= 0:
		verr.Invalid = append(verr.Invalid, FieldTravelerID)
	case i.TravelerID != nil && len(missingDetails) == 0:
		verr.Message = "provide either traveler_id or new traveler details, not both"
		verr.Invalid = append(verr.Invalid, FieldTravelerID, FieldTravelerName, FieldTravelerEmail, FieldTravelerPhone, FieldTravelerAddress)
	case i.TravelerID == nil:
		verr.Missing = append(verr.Missing, missingDetails...)
	}

	if i.PackageID == 0 {
		verr.Missing = append(verr.Missing, FieldPackageID)
	} else if i.PackageID < 0 {
		verr.Invalid = append(verr.Invalid, FieldPackageID)
	}

	switch {
	case math.IsNaN(i.PaymentAmount) || math.IsInf(i.PaymentAmount, 0) || i.PaymentAmount < 0:
		verr.Invalid = append(verr.Invalid, FieldPaymentAmount)
	case i.PaymentAmount == 0:
		verr.Missing = append(verr.Missing, FieldPaymentAmount)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
