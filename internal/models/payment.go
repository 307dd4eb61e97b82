package models

import "time"

// PaymentMethodESewa is the only payment method this service records
const PaymentMethodESewa = "esewa"

// Payment is an append-only record of a reconciled gateway payment
type Payment struct {
	ID         int64     `json:"payment_id" db:"id"`
	Amount     float64   `json:"amount" db:"amount"`
	CreatedAt  time.Time `json:"date" db:"created_at"`
	TravelerID int64     `json:"traveler_id" db:"traveler_id"`
	TicketID   int64     `json:"ticket_id" db:"ticket_id"`
	PackageID  int64     `json:"package_id" db:"package_id"`

	// eSewa audit fields
	ESewaTransactionUUID string  `json:"esewa_transaction_uuid" db:"esewa_transaction_uuid"`
	ESewaTransactionCode *string `json:"esewa_transaction_code,omitempty" db:"esewa_transaction_code"`
	ESewaStatus          *string `json:"esewa_status,omitempty" db:"esewa_status"`
	ESewaSignature       *string `json:"esewa_signature,omitempty" db:"esewa_signature"`
	ESewaRawResponse     JSONB   `json:"esewa_raw_response,omitempty" db:"esewa_raw_response"`
	PaymentMethod        string  `json:"payment_method" db:"payment_method"`
	BookingReference     *string `json:"booking_reference,omitempty" db:"booking_reference"`
}

// ESewaRefID returns the gateway reference id captured from the status check, if any
func (p *Payment) ESewaRefID() string {
	if p.ESewaRawResponse == nil {
		return ""
	}
	verification, ok := p.ESewaRawResponse["verification_response"].(map[string]interface{})
	if !ok {
		return ""
	}
	if ref, ok := verification["ref_id"].(string); ok {
		return ref
	}
	return ""
}
