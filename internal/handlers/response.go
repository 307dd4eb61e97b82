package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/middleware"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/internal/services"
	"github.com/travelnepal/booking-backend/internal/utils"
	"github.com/travelnepal/booking-backend/pkg/esewa"
)

// errorBody is the JSON shape of every error response
func errorBody(reason models.RejectionReason, message string, fields []string, retryable bool) gin.H {
	if fields == nil {
		fields = []string{}
	}
	return gin.H{
		"error":     reason,
		"message":   message,
		"fields":    fields,
		"retryable": retryable,
	}
}

// respondRejection writes a reconciliation rejection with its mapped status
func respondRejection(c *gin.Context, r *models.Rejection) {
	body := errorBody(r.Reason, r.Message, r.Fields, r.Retryable)
	body["state"] = r.FromState
	if r.TransactionUUID != "" {
		body["transaction_uuid"] = r.TransactionUUID
	}
	if r.BookingReference != "" {
		body["booking_reference"] = r.BookingReference
	}
	c.JSON(services.HTTPStatus(r.Reason), body)
}

// respondServiceError maps a service error onto the same response shape
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, operation string) {
	var (
		verr   *models.ValidationError
		eVerr  *esewa.ValidationError
		nfErr  *models.NotFoundError
		cfgErr *esewa.ConfigurationError
	)

	if services.IsClientError(err) {
		logger.WithError(err).Info(operation + ": request rejected")
	}

	switch {
	case errors.As(err, &verr):
		if len(verr.Missing) > 0 {
			c.JSON(http.StatusBadRequest, errorBody(models.ReasonMissingFields, verr.Error(), verr.Fields(), false))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody(models.ReasonInvalidFields, verr.Error(), verr.Invalid, false))
	case errors.As(err, &eVerr):
		c.JSON(http.StatusBadRequest, errorBody(models.ReasonInvalidFields, eVerr.Error(), []string{eVerr.Field}, false))
	case errors.As(err, &nfErr):
		c.JSON(http.StatusNotFound, errorBody(models.ReasonUnknownReference, nfErr.Error(), nil, false))
	case errors.As(err, &cfgErr):
		logger.WithError(err).Error(operation + ": gateway misconfigured")
		c.JSON(http.StatusInternalServerError, errorBody(models.ReasonConfigurationError, "payment gateway is misconfigured", nil, false))
	default:
		logger.WithError(err).Error(operation)
		c.JSON(http.StatusServiceUnavailable, errorBody(models.ReasonPersistenceError, "temporarily unavailable, please retry", nil, true))
	}
}

// requestMetadata collects the client details recorded on audit entries
func requestMetadata(c *gin.Context) models.RequestMetadata {
	userAgent := utils.GetUserAgent(c)
	return models.RequestMetadata{
		IPAddress:     utils.GetRealIP(c),
		UserAgent:     userAgent,
		DeviceType:    utils.ParseUserAgent(userAgent).DeviceType,
		CorrelationID: middleware.GetRequestID(c),
		Method:        c.Request.Method,
		URL:           c.Request.URL.Path,
	}
}
