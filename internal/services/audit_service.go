package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
)

// AuditRepository stores and reads payment audit entries
type AuditRepository interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	GetByTransactionUUID(ctx context.Context, transactionUUID string) ([]*models.PaymentAudit, error)
	GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// AuditService writes the payment audit trail. Write failures are logged and
// never fail the payment flow.
type AuditService struct {
	repo   AuditRepository
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(repo AuditRepository, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record stores an audit entry. Audit writes use their own short deadline so
// a cancelled request still leaves a trail.
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit) {
	if s == nil || s.repo == nil || audit == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.Log(writeCtx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("AUDIT ERROR")
	}
}

// Trail returns all audit entries for a gateway transaction in order
func (s *AuditService) Trail(ctx context.Context, transactionUUID string) ([]*models.PaymentAudit, error) {
	return s.repo.GetByTransactionUUID(ctx, transactionUUID)
}

// AmountMismatches returns the most recent callbacks whose amount did not match
func (s *AuditService) AmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.GetAmountMismatches(ctx, limit)
}
