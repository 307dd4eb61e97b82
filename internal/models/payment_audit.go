package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated           PaymentEventType = "payment_initiated"
	PaymentEventCallbackReceived    PaymentEventType = "callback_received"
	PaymentEventStatusCheckRequest  PaymentEventType = "status_check_request"
	PaymentEventStatusCheckResponse PaymentEventType = "status_check_response"
	PaymentEventSuccess             PaymentEventType = "payment_success"
	PaymentEventFailed              PaymentEventType = "payment_failed"
	PaymentEventBookingConfirmed    PaymentEventType = "booking_confirmed"
	PaymentEventBookingConfirmFail  PaymentEventType = "booking_confirmation_failed"
	PaymentEventDuplicateCallback   PaymentEventType = "duplicate_callback"
	PaymentEventAmountMismatch      PaymentEventType = "amount_mismatch"
	PaymentEventError               PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend       PaymentEventSource = "backend"
	PaymentSourceESewaCallback PaymentEventSource = "esewa_callback"
	PaymentSourceESewaAPI      PaymentEventSource = "esewa_api"
	PaymentSourceUser          PaymentEventSource = "user"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TransactionUUID  *string   `json:"transaction_uuid,omitempty" db:"transaction_uuid"`
	BookingReference *string   `json:"booking_reference,omitempty" db:"booking_reference"`

	// Event info
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking in whole rupees
	ExpectedAmount *int64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64 `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool  `json:"amounts_match,omitempty" db:"amounts_match"`

	// Gateway status
	PaymentStatus   *string `json:"payment_status,omitempty" db:"payment_status"`
	TransactionCode *string `json:"transaction_code,omitempty" db:"transaction_code"`

	// Raw payloads
	RequestPayload  JSONB   `json:"request_payload,omitempty" db:"request_payload"`
	ResponsePayload JSONB   `json:"response_payload,omitempty" db:"response_payload"`
	RawBody         *string `json:"raw_body,omitempty" db:"raw_body"`

	// HTTP details
	HTTPStatusCode *int    `json:"http_status_code,omitempty" db:"http_status_code"`
	HTTPMethod     *string `json:"http_method,omitempty" db:"http_method"`
	EndpointURL    *string `json:"endpoint_url,omitempty" db:"endpoint_url"`

	// Error tracking
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`

	// Processing info
	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	// Client metadata
	IPAddress     *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType    *string `json:"device_type,omitempty" db:"device_type"`
	CorrelationID *string `json:"correlation_id,omitempty" db:"correlation_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RequestMetadata describes the HTTP request that triggered an event
type RequestMetadata struct {
	IPAddress     string
	UserAgent     string
	DeviceType    string
	CorrelationID string
	Method        string
	URL           string
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetTransaction sets the gateway transaction UUID and our booking reference
func (pa *PaymentAudit) SetTransaction(transactionUUID, bookingReference string) *PaymentAudit {
	if transactionUUID != "" {
		pa.TransactionUUID = &transactionUUID
	}
	if bookingReference != "" {
		pa.BookingReference = &bookingReference
	}
	return pa
}

// SetAmounts records both amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetGatewayStatus sets the status and transaction code reported by eSewa
func (pa *PaymentAudit) SetGatewayStatus(status, transactionCode string) *PaymentAudit {
	if status != "" {
		pa.PaymentStatus = &status
	}
	if transactionCode != "" {
		pa.TransactionCode = &transactionCode
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(code, message string) *PaymentAudit {
	pa.ErrorCode = &code
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw response body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetHTTPStatus sets the HTTP status returned by the gateway
func (pa *PaymentAudit) SetHTTPStatus(statusCode int) *PaymentAudit {
	pa.HTTPStatusCode = &statusCode
	return pa
}

// SetRequestPayload sets the request payload
func (pa *PaymentAudit) SetRequestPayload(payload map[string]interface{}) *PaymentAudit {
	pa.RequestPayload = JSONB(payload)
	return pa
}

// SetResponsePayload sets the response payload
func (pa *PaymentAudit) SetResponsePayload(payload map[string]interface{}) *PaymentAudit {
	pa.ResponsePayload = JSONB(payload)
	return pa
}

// SetMetadata copies request metadata onto the entry
func (pa *PaymentAudit) SetMetadata(meta RequestMetadata) *PaymentAudit {
	setIfNotEmpty(&pa.IPAddress, meta.IPAddress)
	setIfNotEmpty(&pa.UserAgent, meta.UserAgent)
	setIfNotEmpty(&pa.DeviceType, meta.DeviceType)
	setIfNotEmpty(&pa.CorrelationID, meta.CorrelationID)
	setIfNotEmpty(&pa.HTTPMethod, meta.Method)
	setIfNotEmpty(&pa.EndpointURL, meta.URL)
	return pa
}

// SetProcessingTime sets the elapsed time since startTime
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// MarkAsDuplicate marks this event as a duplicate
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

func setIfNotEmpty(dst **string, value string) {
	if value != "" {
		v := value
		*dst = &v
	}
}
