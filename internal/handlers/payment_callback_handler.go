package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/internal/services"
	"github.com/travelnepal/booking-backend/pkg/esewa"
)

// Callback query keys that are not part of the booking intent
const (
	paramData             = "data"
	paramFormat           = "format"
	paramSkipVerification = "skip_verification"
)

// failureParams are the query parameters handed to the frontend failure page
type failureParams struct {
	Reason           string `url:"reason"`
	Message          string `url:"message,omitempty"`
	TransactionUUID  string `url:"transaction_uuid,omitempty"`
	BookingReference string `url:"booking_reference,omitempty"`
}

// PaymentCallbackHandler handles the browser redirects back from eSewa
type PaymentCallbackHandler struct {
	reconciler   *services.ReconciliationService
	auditService *services.AuditService
	successURL   string
	failureURL   string
	logger       *logrus.Logger
}

// NewPaymentCallbackHandler creates a new PaymentCallbackHandler. successURL
// and failureURL are the frontend pages the traveler lands on.
func NewPaymentCallbackHandler(
	reconciler *services.ReconciliationService,
	auditService *services.AuditService,
	successURL string,
	failureURL string,
	logger *logrus.Logger,
) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		reconciler:   reconciler,
		auditService: auditService,
		successURL:   successURL,
		failureURL:   failureURL,
		logger:       logger,
	}
}

// ============================================================================
// SUCCESS CALLBACK - GET /api/v1/esewa/v2/success (alias /esewa/v2/verify)
// ============================================================================

// Success reconciles the callback and redirects to the frontend
// @Summary eSewa success callback
// @Description Verifies the payment with eSewa and commits the booking. Add format=json for a JSON response.
// @Tags Payments
// @Produce json
// @Param data query string true "Base64 payload from eSewa"
// @Param format query string false "json to skip the redirect"
// @Success 302 "Redirect to the frontend success page"
// @Success 200 {object} models.BookingSummary
// @Failure 400 {object} map[string]interface{} "Decode or intent field errors"
// @Failure 402 {object} map[string]interface{} "Payment not verified"
// @Failure 502 {object} map[string]interface{} "Gateway unreachable"
// @Failure 503 {object} map[string]interface{} "Booking could not be saved"
// @Router /esewa/v2/success [get]
func (h *PaymentCallbackHandler) Success(c *gin.Context) {
	values := callbackQuery(c)
	wantJSON := values.Get(paramFormat) == "json"
	skip, _ := strconv.ParseBool(values.Get(paramSkipVerification))

	input := services.CallbackInput{
		Data:             values.Get(paramData),
		Query:            withoutKeys(values, paramData, paramFormat, paramSkipVerification),
		SkipVerification: skip,
		Metadata:         requestMetadata(c),
	}

	result := h.reconciler.Reconcile(c.Request.Context(), input)

	if result.Rejected != nil {
		if wantJSON {
			respondRejection(c, result.Rejected)
			return
		}
		c.Redirect(http.StatusFound, h.failureRedirect(failureParams{
			Reason:           string(result.Rejected.Reason),
			Message:          result.Rejected.Message,
			TransactionUUID:  result.Rejected.TransactionUUID,
			BookingReference: result.Rejected.BookingReference,
		}))
		return
	}

	summary := result.Committed.Booking.Summary()
	summary.Duplicate = result.Committed.Duplicate

	if wantJSON {
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"duplicate": summary.Duplicate,
			"booking":   summary,
		})
		return
	}

	params, err := query.Values(summary)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode booking summary")
		c.JSON(http.StatusOK, summary)
		return
	}
	c.Redirect(http.StatusFound, withParams(h.successURL, params))
}

// ============================================================================
// FAILURE CALLBACK - GET /api/v1/esewa/v2/failure
// ============================================================================

// Failure records a cancelled or failed payment and redirects to the frontend
// @Summary eSewa failure callback
// @Tags Payments
// @Produce json
// @Param booking_reference query string false "Booking reference"
// @Success 302 "Redirect to the frontend failure page"
// @Router /esewa/v2/failure [get]
func (h *PaymentCallbackHandler) Failure(c *gin.Context) {
	values := callbackQuery(c)
	reference := values.Get(models.FieldBookingReference)

	payload := make(map[string]interface{}, len(values))
	for key := range values {
		payload[key] = values.Get(key)
	}

	var transactionUUID string
	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceESewaCallback).
		SetRequestPayload(payload).
		SetMetadata(requestMetadata(c)).
		SetError("payment_failed", "payment failed or cancelled at eSewa")
	if data, err := esewa.DecodeResponse(values.Get(paramData)); err == nil {
		transactionUUID = data.TransactionUUID
		audit.SetGatewayStatus(data.Status, data.TransactionCode)
	}
	audit.SetTransaction(transactionUUID, reference)
	h.auditService.Record(c.Request.Context(), audit)

	h.logger.WithFields(logrus.Fields{
		"booking_reference": reference,
		"transaction_uuid":  transactionUUID,
	}).Warn("eSewa payment failed or cancelled")

	params := failureParams{
		Reason:           "payment_failed",
		Message:          "Payment failed or cancelled",
		TransactionUUID:  transactionUUID,
		BookingReference: reference,
	}

	if values.Get(paramFormat) == "json" {
		c.JSON(http.StatusOK, gin.H{
			"status":            "failed",
			"message":           params.Message,
			"booking_reference": reference,
			"transaction_uuid":  transactionUUID,
		})
		return
	}
	c.Redirect(http.StatusFound, h.failureRedirect(params))
}

func (h *PaymentCallbackHandler) failureRedirect(params failureParams) string {
	values, err := query.Values(params)
	if err != nil {
		return h.failureURL
	}
	return withParams(h.failureURL, values)
}

// callbackQuery parses the query string after repairing a second '?'
// appended by the gateway
func callbackQuery(c *gin.Context) url.Values {
	u, err := url.Parse(esewa.NormalizeCallbackURL(c.Request.RequestURI))
	if err != nil {
		return c.Request.URL.Query()
	}
	return u.Query()
}

func withoutKeys(values url.Values, keys ...string) url.Values {
	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, k := range keys {
		out.Del(k)
	}
	return out
}

func withParams(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	merged := u.Query()
	for k, v := range params {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
