package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     Queryer
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db Queryer, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, transaction_uuid, booking_reference,
			event_type, event_source,
			expected_amount, received_amount, amounts_match,
			payment_status, transaction_code,
			request_payload, response_payload, raw_body,
			http_status_code, http_method, endpoint_url,
			error_message, error_code,
			processing_time_ms, is_duplicate,
			ip_address, user_agent, device_type, correlation_id,
			created_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18,
			$19, $20,
			$21, $22, $23, $24,
			$25
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.TransactionUUID, audit.BookingReference,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.AmountsMatch,
		audit.PaymentStatus, audit.TransactionCode,
		audit.RequestPayload, audit.ResponsePayload, audit.RawBody,
		audit.HTTPStatusCode, audit.HTTPMethod, audit.EndpointURL,
		audit.ErrorMessage, audit.ErrorCode,
		audit.ProcessingTimeMs, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent, audit.DeviceType, audit.CorrelationID,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":       audit.EventType,
			"transaction_uuid": audit.TransactionUUID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// GetByTransactionUUID retrieves all audit entries for a gateway transaction
func (r *PaymentAuditRepository) GetByTransactionUUID(ctx context.Context, transactionUUID string) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE transaction_uuid = $1
		ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &audits, query, transactionUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audits by transaction uuid: %w", err)
	}

	return audits, nil
}

// GetAmountMismatches retrieves recent audits where amounts didn't match
func (r *PaymentAuditRepository) GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE amounts_match = FALSE
		ORDER BY created_at DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &audits, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get amount mismatches: %w", err)
	}

	return audits, nil
}
