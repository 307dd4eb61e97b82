package services

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/database"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/pkg/esewa"
	"github.com/travelnepal/booking-backend/pkg/mailer"
)

// CallbackInput is one success callback as received from the traveler's browser
type CallbackInput struct {
	// Data is the base64 `data` parameter appended by eSewa
	Data string
	// Query holds the remaining (normalized) query parameters, including the intent
	Query            url.Values
	SkipVerification bool
	Metadata         models.RequestMetadata
}

// ReconciliationOptions toggles the optional checks of the engine
type ReconciliationOptions struct {
	AllowSkipVerification   bool
	VerifyCallbackSignature bool
}

// ReconciliationService turns a verified eSewa callback into exactly one booking
type ReconciliationService struct {
	store   BookingStore
	gateway PaymentGateway
	carrier *IntentCarrier
	audits  *AuditService
	mailer  mailer.Mailer
	opts    ReconciliationOptions
	logger  *logrus.Logger

	notifications sync.WaitGroup
}

// NewReconciliationService creates the reconciliation engine. notifier may be nil.
func NewReconciliationService(
	store BookingStore,
	gateway PaymentGateway,
	carrier *IntentCarrier,
	audits *AuditService,
	notifier mailer.Mailer,
	opts ReconciliationOptions,
	logger *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		store:   store,
		gateway: gateway,
		carrier: carrier,
		audits:  audits,
		mailer:  notifier,
		opts:    opts,
		logger:  logger,
	}
}

// callbackRun tracks one pass through the state machine
type callbackRun struct {
	started  time.Time
	state    models.ReconciliationState
	input    CallbackInput
	data     *esewa.CallbackData
	intent   *models.BookingIntent
	status   *esewa.StatusResponse
	verified bool
}

func (r *callbackRun) transactionUUID() string {
	if r.data == nil {
		return ""
	}
	return r.data.TransactionUUID
}

func (r *callbackRun) bookingReference() string {
	if r.intent != nil && r.intent.BookingReference != "" {
		return r.intent.BookingReference
	}
	if r.input.Query != nil {
		if ref := r.input.Query.Get(models.FieldBookingReference); ref != "" {
			return ref
		}
		return r.input.Query.Get(models.FieldIntentRef)
	}
	return ""
}

// Reconcile runs the callback through decode, verification, intent validation
// and the atomic commit. It never returns a Go error: every failure is a
// Rejection on the result.
func (s *ReconciliationService) Reconcile(ctx context.Context, input CallbackInput) *models.ReconciliationResult {
	run := &callbackRun{
		started: time.Now(),
		state:   models.StateAwaitingCallback,
		input:   input,
	}

	// awaiting_callback -> data_decoded
	data, err := esewa.DecodeResponse(input.Data)
	if err != nil {
		s.recordCallback(ctx, run, err)
		return s.reject(ctx, run, models.ReasonDecodeError, err.Error(), nil)
	}
	run.data = data
	run.state = models.StateDataDecoded

	intent, intentErr := s.carrier.Decode(ctx, input.Query)
	run.intent = intent
	s.recordCallback(ctx, run, nil)

	var verr *models.ValidationError
	if intentErr != nil && !errors.As(intentErr, &verr) {
		s.logger.WithError(intentErr).WithField("transaction_uuid", data.TransactionUUID).
			Error("Booking intent store unavailable")
		return s.reject(ctx, run, models.ReasonPersistenceError, "booking intent store unavailable", nil)
	}

	if s.opts.VerifyCallbackSignature {
		if err := data.VerifySignature(s.gateway.Signer()); err != nil {
			return s.reject(ctx, run, models.ReasonInvalidSignature, err.Error(), nil)
		}
	}

	// data_decoded -> transaction_verified
	received, rejection := s.verify(ctx, run)
	if rejection != nil {
		return rejection
	}

	if intent != nil && intent.PaymentAmount > 0 && !fieldInvalid(verr, models.FieldPaymentAmount) {
		if result := s.compareAmounts(ctx, run, int64(math.Trunc(intent.PaymentAmount)), received); result != nil {
			return result
		}
	}
	run.state = models.StateTransactionVerified
	s.recordVerified(ctx, run, received)

	// transaction_verified -> fields_validated
	if verr != nil {
		return s.rejectIntent(ctx, run, verr)
	}
	run.state = models.StateFieldsValidated

	// fields_validated -> committed
	return s.commit(ctx, run)
}

// Wait blocks until queued confirmation emails have been handed off
func (s *ReconciliationService) Wait() {
	s.notifications.Wait()
}

// verify confirms the transaction with the gateway and returns the total it reports in whole rupees
func (s *ReconciliationService) verify(ctx context.Context, run *callbackRun) (int64, *models.ReconciliationResult) {
	data := run.data
	log := s.logger.WithFields(logrus.Fields{
		"transaction_uuid":  data.TransactionUUID,
		"booking_reference": run.bookingReference(),
	})

	// The callback must claim COMPLETE on its own, whatever the status endpoint says
	if !data.IsComplete() {
		return 0, s.reject(ctx, run, models.ReasonVerificationFailed,
			"payment status is "+data.Status+", expected "+esewa.StatusComplete, nil)
	}

	if run.input.SkipVerification {
		if s.opts.AllowSkipVerification {
			log.Warn("Skipping remote eSewa verification")
			received, err := esewa.ParseRupees(data.TotalAmount)
			if err != nil {
				return 0, s.reject(ctx, run, models.ReasonDecodeError, "total_amount is not a number", nil)
			}
			return received, nil
		}
		log.Warn("skip_verification requested but not allowed, verifying remotely")
	}

	request := models.NewPaymentAudit(models.PaymentEventStatusCheckRequest, models.PaymentSourceBackend).
		SetTransaction(data.TransactionUUID, run.bookingReference()).
		SetRequestPayload(map[string]interface{}{
			"transaction_uuid": data.TransactionUUID,
			"total_amount":     data.TotalAmount,
		}).
		SetMetadata(models.RequestMetadata{CorrelationID: run.input.Metadata.CorrelationID, Method: http.MethodGet})
	s.audits.Record(ctx, request)

	started := time.Now()
	status, err := s.gateway.VerifyTransaction(ctx, data.TransactionUUID, data.TotalAmount)
	s.recordStatusResponse(ctx, run, status, err, started)

	if err != nil {
		reason := models.ReasonNetworkFailure
		var vErr *esewa.VerificationError
		if errors.As(err, &vErr) {
			switch vErr.Kind {
			case esewa.VerificationProtocol:
				reason = models.ReasonProtocolFailure
			case esewa.VerificationNotFound:
				reason = models.ReasonTransactionNotFound
			case esewa.VerificationNotComplete:
				reason = models.ReasonVerificationFailed
			case esewa.VerificationSignature:
				reason = models.ReasonInvalidSignature
			}
		}
		log.WithError(err).WithField("reason", reason).Warn("eSewa verification failed")
		return 0, s.reject(ctx, run, reason, err.Error(), nil)
	}

	if status.TransactionUUID != "" && status.TransactionUUID != data.TransactionUUID {
		return 0, s.reject(ctx, run, models.ReasonVerificationFailed,
			"gateway returned a different transaction", nil)
	}

	received, err := status.TotalAmount.Rupees()
	if err != nil {
		return 0, s.reject(ctx, run, models.ReasonProtocolFailure, "gateway total_amount is not a number", nil)
	}

	run.status = status
	run.verified = true
	return received, nil
}

// compareAmounts checks int(intent amount) against int(gateway total)
func (s *ReconciliationService) compareAmounts(ctx context.Context, run *callbackRun, expected, received int64) *models.ReconciliationResult {
	if expected == received {
		return nil
	}

	mismatch := &models.AmountMismatchError{Expected: expected, Received: received}

	audit := models.NewPaymentAudit(models.PaymentEventAmountMismatch, models.PaymentSourceBackend).
		SetTransaction(run.transactionUUID(), run.bookingReference()).
		SetGatewayStatus(run.data.Status, run.data.TransactionCode).
		SetError(string(models.ReasonAmountMismatch), mismatch.Error()).
		SetMetadata(run.input.Metadata)
	audit.SetAmounts(expected, received)
	s.audits.Record(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"transaction_uuid": run.transactionUUID(),
		"expected":         expected,
		"received":         received,
	}).Error("SECURITY: payment amount mismatch")

	return s.reject(ctx, run, models.ReasonAmountMismatch, mismatch.Error(), nil)
}

func (s *ReconciliationService) rejectIntent(ctx context.Context, run *callbackRun, verr *models.ValidationError) *models.ReconciliationResult {
	for _, field := range verr.Fields() {
		if field == models.FieldIntentToken || field == models.FieldIntentRef {
			msg := "booking intent could not be authenticated"
			if verr.Message != "" {
				msg = verr.Message
			}
			return s.reject(ctx, run, models.ReasonInvalidIntent, msg, verr.Fields())
		}
	}
	if len(verr.Missing) > 0 {
		return s.reject(ctx, run, models.ReasonMissingFields, "missing booking fields", verr.Missing)
	}
	return s.reject(ctx, run, models.ReasonInvalidFields, "invalid booking fields", verr.Invalid)
}

func (s *ReconciliationService) commit(ctx context.Context, run *callbackRun) *models.ReconciliationResult {
	data := run.data

	booking, duplicate, err := s.store.CommitBooking(ctx, database.CommitBookingParams{
		Intent:          run.intent,
		TransactionUUID: data.TransactionUUID,
		TransactionCode: data.TransactionCode,
		Status:          data.Status,
		Signature:       data.Signature,
		RawResponse:     s.rawResponse(run),
	})
	if err != nil {
		var (
			nfErr  *models.NotFoundError
			reason = models.ReasonPersistenceError
		)
		if errors.As(err, &nfErr) {
			reason = models.ReasonUnknownReference
		}

		audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmFail, models.PaymentSourceBackend).
			SetTransaction(data.TransactionUUID, run.bookingReference()).
			SetError(string(reason), err.Error()).
			SetMetadata(run.input.Metadata).
			SetProcessingTime(run.started)
		s.audits.Record(ctx, audit)

		s.logger.WithError(err).WithFields(logrus.Fields{
			"transaction_uuid":  data.TransactionUUID,
			"booking_reference": run.bookingReference(),
		}).Error("Failed to commit booking")

		msg := err.Error()
		if reason == models.ReasonPersistenceError {
			msg = "booking could not be saved, please retry"
		}
		return s.reject(ctx, run, reason, msg, nil)
	}

	eventType := models.PaymentEventBookingConfirmed
	if duplicate {
		eventType = models.PaymentEventDuplicateCallback
	}
	audit := models.NewPaymentAudit(eventType, models.PaymentSourceESewaCallback).
		SetTransaction(data.TransactionUUID, run.bookingReference()).
		SetGatewayStatus(data.Status, data.TransactionCode).
		SetMetadata(run.input.Metadata).
		SetProcessingTime(run.started)
	if duplicate {
		audit.MarkAsDuplicate()
	}
	s.audits.Record(ctx, audit)

	run.state = models.StateCommitted
	s.logger.WithFields(logrus.Fields{
		"transaction_uuid":  data.TransactionUUID,
		"booking_reference": run.bookingReference(),
		"duplicate":         duplicate,
	}).Info("eSewa payment reconciled")

	if !duplicate {
		s.notify(ctx, booking)
	}

	return &models.ReconciliationResult{
		State:     models.StateCommitted,
		Committed: &models.CommittedBooking{Booking: booking, Duplicate: duplicate},
	}
}

// notify sends the confirmation email in the background. Failures are logged only.
func (s *ReconciliationService) notify(ctx context.Context, booking *models.Booking) {
	if s.mailer == nil || booking == nil || booking.Traveler == nil || booking.Traveler.Email == "" {
		return
	}

	summary := booking.Summary()
	confirmation := mailer.BookingConfirmation{
		ToName:           summary.TravelerName,
		ToEmail:          summary.TravelerEmail,
		BookingReference: summary.BookingReference,
		PackageTitle:     summary.PackageTitle,
		Amount:           summary.PaymentAmount,
		PaymentDate:      summary.PaymentDate,
		TicketID:         summary.TicketID,
		TransactionUUID:  summary.TransactionUUID,
		ESewaRefID:       summary.ESewaRefID,
	}

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		if err := s.mailer.SendBookingConfirmation(context.WithoutCancel(ctx), confirmation); err != nil {
			s.logger.WithError(err).WithField("transaction_uuid", confirmation.TransactionUUID).
				Warn("Failed to send booking confirmation")
		}
	}()
}

func (s *ReconciliationService) reject(ctx context.Context, run *callbackRun, reason models.RejectionReason, message string, fields []string) *models.ReconciliationResult {
	rejection := &models.Rejection{
		Reason:           reason,
		Message:          message,
		Fields:           fields,
		Retryable:        IsRetryable(reason),
		FromState:        run.state,
		TransactionUUID:  run.transactionUUID(),
		BookingReference: run.bookingReference(),
	}

	eventType := models.PaymentEventFailed
	if reason == models.ReasonPersistenceError {
		eventType = models.PaymentEventError
	}
	audit := models.NewPaymentAudit(eventType, models.PaymentSourceBackend).
		SetTransaction(rejection.TransactionUUID, rejection.BookingReference).
		SetError(string(reason), message).
		SetMetadata(run.input.Metadata).
		SetProcessingTime(run.started)
	if run.data != nil {
		audit.SetGatewayStatus(run.data.Status, run.data.TransactionCode)
	}
	s.audits.Record(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"reason":            reason,
		"state":             run.state,
		"transaction_uuid":  rejection.TransactionUUID,
		"booking_reference": rejection.BookingReference,
		"fields":            fields,
	}).Warn("eSewa callback rejected")

	return &models.ReconciliationResult{
		State:    models.StateRejected,
		Rejected: rejection,
	}
}

func (s *ReconciliationService) recordCallback(ctx context.Context, run *callbackRun, decodeErr error) {
	payload := map[string]interface{}{"data": run.input.Data}
	for key := range run.input.Query {
		if key == models.FieldIntentToken {
			continue
		}
		payload[key] = run.input.Query.Get(key)
	}

	audit := models.NewPaymentAudit(models.PaymentEventCallbackReceived, models.PaymentSourceESewaCallback).
		SetTransaction(run.transactionUUID(), run.bookingReference()).
		SetRequestPayload(payload).
		SetMetadata(run.input.Metadata)

	if decodeErr != nil {
		audit.SetError(string(models.ReasonDecodeError), decodeErr.Error())
	} else {
		audit.SetGatewayStatus(run.data.Status, run.data.TransactionCode)
		audit.SetResponsePayload(stringMap(run.data.Fields))
		if received, err := esewa.ParseRupees(run.data.TotalAmount); err == nil {
			audit.ReceivedAmount = &received
		}
	}
	s.audits.Record(ctx, audit)
}

// recordVerified logs the payment as confirmed before the intent is checked
func (s *ReconciliationService) recordVerified(ctx context.Context, run *callbackRun, received int64) {
	source := models.PaymentSourceESewaCallback
	if run.verified {
		source = models.PaymentSourceESewaAPI
	}

	audit := models.NewPaymentAudit(models.PaymentEventSuccess, source).
		SetTransaction(run.transactionUUID(), run.bookingReference()).
		SetGatewayStatus(run.data.Status, run.data.TransactionCode).
		SetMetadata(models.RequestMetadata{CorrelationID: run.input.Metadata.CorrelationID})
	if run.intent != nil && run.intent.PaymentAmount > 0 {
		audit.SetAmounts(int64(math.Trunc(run.intent.PaymentAmount)), received)
	} else {
		audit.ReceivedAmount = &received
	}
	s.audits.Record(ctx, audit)
}

func (s *ReconciliationService) recordStatusResponse(ctx context.Context, run *callbackRun, status *esewa.StatusResponse, err error, started time.Time) {
	audit := models.NewPaymentAudit(models.PaymentEventStatusCheckResponse, models.PaymentSourceESewaAPI).
		SetTransaction(run.transactionUUID(), run.bookingReference()).
		SetMetadata(models.RequestMetadata{CorrelationID: run.input.Metadata.CorrelationID}).
		SetProcessingTime(started)

	if status != nil {
		audit.SetGatewayStatus(status.Status, "")
		audit.SetRawBody(status.RawBody)
		audit.SetHTTPStatus(status.HTTPStatusCode)
		audit.SetResponsePayload(statusPayload(status))
		if received, err := status.TotalAmount.Rupees(); err == nil {
			audit.ReceivedAmount = &received
		}
	}
	if err != nil {
		var vErr *esewa.VerificationError
		code := "verification_error"
		if errors.As(err, &vErr) {
			code = string(vErr.Kind)
			if status == nil && vErr.StatusCode != 0 {
				audit.SetHTTPStatus(vErr.StatusCode)
			}
		}
		audit.SetError(code, err.Error())
	}
	s.audits.Record(ctx, audit)
}

// rawResponse is the payload stored on the payment row
func (s *ReconciliationService) rawResponse(run *callbackRun) models.JSONB {
	raw := models.JSONB{
		"decoded_data": stringMap(run.data.Fields),
		"verified":     run.verified,
	}
	if run.status != nil {
		raw["verification_response"] = statusPayload(run.status)
	}
	return raw
}

func statusPayload(status *esewa.StatusResponse) map[string]interface{} {
	payload := map[string]interface{}{
		"product_code":     status.ProductCode,
		"transaction_uuid": status.TransactionUUID,
		"total_amount":     string(status.TotalAmount),
		"status":           status.Status,
		"ref_id":           nil,
	}
	if status.RefID != nil {
		payload["ref_id"] = *status.RefID
	}
	return payload
}

func stringMap(fields map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func fieldInvalid(verr *models.ValidationError, field string) bool {
	if verr == nil {
		return false
	}
	for _, f := range verr.Invalid {
		if f == field {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the same callback may succeed if replayed later
func IsRetryable(reason models.RejectionReason) bool {
	switch reason {
	case models.ReasonNetworkFailure, models.ReasonProtocolFailure, models.ReasonPersistenceError:
		return true
	}
	return false
}

// HTTPStatus maps a rejection reason to the response status code
func HTTPStatus(reason models.RejectionReason) int {
	switch reason {
	case models.ReasonDecodeError, models.ReasonMissingFields, models.ReasonInvalidFields, models.ReasonInvalidIntent:
		return http.StatusBadRequest
	case models.ReasonUnknownReference, models.ReasonTransactionNotFound:
		return http.StatusNotFound
	case models.ReasonVerificationFailed, models.ReasonInvalidSignature, models.ReasonAmountMismatch:
		return http.StatusPaymentRequired
	case models.ReasonNetworkFailure, models.ReasonProtocolFailure:
		return http.StatusBadGateway
	case models.ReasonPersistenceError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
