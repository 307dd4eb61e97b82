package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/database"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/pkg/esewa"
	"github.com/travelnepal/booking-backend/pkg/validator"
)

// Callback paths under the public base URL
const (
	SuccessCallbackPath = "/api/v1/esewa/v2/success"
	FailureCallbackPath = "/api/v1/esewa/v2/failure"
)

// BookingStore reads reference data and commits reconciled bookings
type BookingStore interface {
	GetPackage(ctx context.Context, id int64) (*models.TourPackage, error)
	GetTraveler(ctx context.Context, id int64) (*models.Traveler, error)
	FindByTransactionUUID(ctx context.Context, transactionUUID string) (*models.Booking, error)
	CommitBooking(ctx context.Context, params database.CommitBookingParams) (*models.Booking, bool, error)
}

// PaymentGateway is the part of the eSewa client the booking flow uses
type PaymentGateway interface {
	BuildPaymentRequest(params esewa.PaymentParams) (*esewa.PaymentRequest, error)
	VerifyTransaction(ctx context.Context, transactionUUID, totalAmount string) (*esewa.StatusResponse, error)
	PaymentURL() string
	Signer() *esewa.Signer
}

// BookingService starts bookings by handing the client a signed eSewa form
type BookingService struct {
	store          BookingStore
	gateway        PaymentGateway
	carrier        *IntentCarrier
	audits         *AuditService
	phoneValidator *validator.PhoneValidator
	successURL     string
	failureURL     string
	logger         *logrus.Logger
}

// NewBookingService creates a booking service. publicBaseURL is where eSewa
// redirects the traveler back to.
func NewBookingService(
	store BookingStore,
	gateway PaymentGateway,
	carrier *IntentCarrier,
	audits *AuditService,
	publicBaseURL string,
	logger *logrus.Logger,
) *BookingService {
	base := strings.TrimRight(publicBaseURL, "/")
	return &BookingService{
		store:          store,
		gateway:        gateway,
		carrier:        carrier,
		audits:         audits,
		phoneValidator: validator.NewPhoneValidator(),
		successURL:     base + SuccessCallbackPath,
		failureURL:     base + FailureCallbackPath,
		logger:         logger,
	}
}

// InitiateBooking validates the request and returns the eSewa form the
// client must POST. Nothing is persisted except the audit entry.
func (s *BookingService) InitiateBooking(ctx context.Context, req *models.CreateBookingRequest, meta models.RequestMetadata) (*models.InitiateBookingResponse, error) {
	reference, err := models.NewBookingReference()
	if err != nil {
		return nil, err
	}

	intent := req.ToIntent(reference)
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if err := s.normalizeContact(intent); err != nil {
		return nil, err
	}

	pkg, err := s.store.GetPackage(ctx, intent.PackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	if pkg == nil {
		return nil, &models.NotFoundError{Resource: "package", ID: strconv.FormatInt(intent.PackageID, 10)}
	}

	if intent.HasTravelerID() {
		traveler, err := s.store.GetTraveler(ctx, *intent.TravelerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load traveler: %w", err)
		}
		if traveler == nil {
			return nil, &models.NotFoundError{Resource: "traveler", ID: strconv.FormatInt(*intent.TravelerID, 10)}
		}
	}

	successURL, err := s.carrier.BuildSuccessURL(ctx, s.successURL, intent)
	if err != nil {
		return nil, err
	}
	failureURL := s.failureURL + "?" + models.FieldBookingReference + "=" + reference

	payment, err := s.gateway.BuildPaymentRequest(esewa.PaymentParams{
		Amount:     intent.PaymentAmount,
		SuccessURL: successURL,
		FailureURL: failureURL,
	})
	if err != nil {
		return nil, err
	}

	form, err := payment.FormValues()
	if err != nil {
		return nil, err
	}
	formData := make(map[string]string, len(form))
	payload := make(map[string]interface{}, len(form))
	for key := range form {
		formData[key] = form.Get(key)
		payload[key] = form.Get(key)
	}

	amount, _ := esewa.ParseRupees(payment.TotalAmount)
	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceUser).
		SetTransaction(payment.TransactionUUID, reference).
		SetRequestPayload(payload).
		SetMetadata(meta)
	audit.ExpectedAmount = &amount
	s.audits.Record(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"booking_reference": reference,
		"transaction_uuid":  payment.TransactionUUID,
		"package_id":        pkg.ID,
		"amount":            payment.TotalAmount,
		"existing_traveler": intent.HasTravelerID(),
	}).Info("eSewa payment initiated")

	return &models.InitiateBookingResponse{
		PaymentURL:       s.gateway.PaymentURL(),
		FormData:         formData,
		BookingReference: reference,
		TransactionUUID:  payment.TransactionUUID,
		PackageID:        pkg.ID,
		PackageTitle:     pkg.Title,
		Amount:           intent.PaymentAmount,
	}, nil
}

// GetBookingByTransaction returns the committed booking for a gateway transaction
func (s *BookingService) GetBookingByTransaction(ctx context.Context, transactionUUID string) (*models.Booking, error) {
	booking, err := s.store.FindByTransactionUUID(ctx, transactionUUID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &models.NotFoundError{Resource: "booking", ID: transactionUUID}
	}
	return booking, nil
}

// normalizeContact checks a new traveler's email and phone and stores the
// sanitized values back on the intent
func (s *BookingService) normalizeContact(intent *models.BookingIntent) error {
	if intent.HasTravelerID() {
		// partial details next to a traveler id are ignored
		intent.TravelerName, intent.TravelerEmail, intent.TravelerPhone, intent.TravelerAddress = "", "", "", ""
		return nil
	}

	verr := &models.ValidationError{}

	email, err := validator.ValidateEmail(intent.TravelerEmail)
	if err != nil {
		verr.Invalid = append(verr.Invalid, models.FieldTravelerEmail)
	} else {
		intent.TravelerEmail = strings.ToLower(email)
	}

	phone, err := s.phoneValidator.Validate(intent.TravelerPhone)
	if err != nil {
		verr.Invalid = append(verr.Invalid, models.FieldTravelerPhone)
	} else {
		intent.TravelerPhone = phone
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// IsClientError reports whether err was caused by the request rather than the server
func IsClientError(err error) bool {
	var (
		verr  *models.ValidationError
		eVerr *esewa.ValidationError
		nfErr *models.NotFoundError
	)
	return errors.As(err, &verr) || errors.As(err, &eVerr) || errors.As(err, &nfErr)
}
