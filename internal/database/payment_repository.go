package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/travelnepal/booking-backend/internal/models"
)

const paymentColumns = `id, amount, created_at, traveler_id, ticket_id, package_id,
	esewa_transaction_uuid, esewa_transaction_code, esewa_status, esewa_signature,
	esewa_raw_response, payment_method, booking_reference`

// PaymentRepository handles payment records. Payments are never updated.
type PaymentRepository struct {
	db Queryer
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db Queryer) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment and fills in ID and CreatedAt.
// esewa_transaction_uuid is UNIQUE, so a replay fails with 23505.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.PaymentMethod == "" {
		payment.PaymentMethod = models.PaymentMethodESewa
	}

	query := `
		INSERT INTO payments (
			amount, traveler_id, ticket_id, package_id,
			esewa_transaction_uuid, esewa_transaction_code, esewa_status, esewa_signature,
			esewa_raw_response, payment_method, booking_reference
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11
		)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		payment.Amount, payment.TravelerID, payment.TicketID, payment.PackageID,
		payment.ESewaTransactionUUID, payment.ESewaTransactionCode, payment.ESewaStatus, payment.ESewaSignature,
		payment.ESewaRawResponse, payment.PaymentMethod, payment.BookingReference,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return wrapQueryError("failed to create payment", err)
	}
	return nil
}

// GetByTransactionUUID retrieves the payment for a gateway transaction. Returns nil, nil when not found.
func (r *PaymentRepository) GetByTransactionUUID(ctx context.Context, transactionUUID string) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE esewa_transaction_uuid = $1`

	err := r.db.GetContext(ctx, &payment, query, transactionUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQueryError("failed to get payment by transaction uuid", err)
	}
	return &payment, nil
}
