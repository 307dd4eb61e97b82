package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/internal/services"
)

// BookingHandler handles booking initiation and lookup endpoints
type BookingHandler struct {
	bookingService *services.BookingService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingService *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		logger:         logger,
	}
}

// ============================================================================
// INITIATE BOOKING - POST /api/v1/bookings/esewa
// ============================================================================

// InitiateBooking validates the booking intent and returns the signed eSewa form
// @Summary Start an eSewa booking
// @Description Validates traveler and package, returns the payment form the browser must POST to eSewa
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 200 {object} models.InitiateBookingResponse
// @Failure 400 {object} map[string]interface{} "Missing or invalid fields"
// @Failure 404 {object} map[string]interface{} "Unknown package or traveler"
// @Router /bookings/esewa [post]
func (h *BookingHandler) InitiateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(models.ReasonInvalidFields, "invalid request: "+err.Error(), nil, false))
		return
	}

	response, err := h.bookingService.InitiateBooking(c.Request.Context(), &req, requestMetadata(c))
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to initiate booking")
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/transactions/:transaction_uuid
// ============================================================================

// GetBookingByTransaction returns the booking summary for a gateway transaction
// @Summary Booking by transaction
// @Tags Bookings
// @Produce json
// @Param transaction_uuid path string true "eSewa transaction UUID"
// @Success 200 {object} models.BookingSummary
// @Failure 404 {object} map[string]interface{} "No booking for transaction"
// @Router /bookings/transactions/{transaction_uuid} [get]
func (h *BookingHandler) GetBookingByTransaction(c *gin.Context) {
	transactionUUID := strings.TrimSpace(c.Param("transaction_uuid"))
	if transactionUUID == "" {
		c.JSON(http.StatusBadRequest, errorBody(models.ReasonMissingFields, "transaction_uuid is required", []string{"transaction_uuid"}, false))
		return
	}

	booking, err := h.bookingService.GetBookingByTransaction(c.Request.Context(), transactionUUID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to load booking")
		return
	}

	c.JSON(http.StatusOK, booking.Summary())
}
