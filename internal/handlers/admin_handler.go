package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/middleware"
	"github.com/travelnepal/booking-backend/internal/services"
)

// AdminHandler handles operator endpoints over the payment audit trail
type AdminHandler struct {
	auditService *services.AuditService
	logger       *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(auditService *services.AuditService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		auditService: auditService,
		logger:       logger,
	}
}

// ===================================================================
// PAYMENT AUDIT TRAIL
// ===================================================================

// GetPaymentAudits handles GET /api/v1/admin/payments/:transaction_uuid/audits
func (h *AdminHandler) GetPaymentAudits(c *gin.Context) {
	transactionUUID := c.Param("transaction_uuid")

	audits, err := h.auditService.Trail(c.Request.Context(), transactionUUID)
	if err != nil {
		h.logger.WithError(err).WithField("transaction_uuid", transactionUUID).Error("Failed to load audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}

	admin, _ := middleware.GetAdminContext(c)
	h.logger.WithFields(logrus.Fields{
		"admin":            admin.Username,
		"transaction_uuid": transactionUUID,
		"entries":          len(audits),
	}).Info("Audit trail viewed")

	c.JSON(http.StatusOK, gin.H{
		"transaction_uuid": transactionUUID,
		"count":            len(audits),
		"audits":           audits,
	})
}

// GetAmountMismatches handles GET /api/v1/admin/audits/amount-mismatches?limit=50
func (h *AdminHandler) GetAmountMismatches(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number"})
		return
	}

	audits, err := h.auditService.AmountMismatches(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load amount mismatches")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load amount mismatches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(audits),
		"audits": audits,
	})
}
