package models

// ReconciliationState is a step of the callback state machine
type ReconciliationState string

const (
	StateAwaitingCallback    ReconciliationState = "awaiting_callback"
	StateDataDecoded         ReconciliationState = "data_decoded"
	StateTransactionVerified ReconciliationState = "transaction_verified"
	StateFieldsValidated     ReconciliationState = "fields_validated"
	StateCommitted           ReconciliationState = "committed"
	StateRejected            ReconciliationState = "rejected"
)

// RejectionReason is the machine-readable reason a callback was rejected
type RejectionReason string

const (
	ReasonDecodeError         RejectionReason = "decode_error"
	ReasonNetworkFailure      RejectionReason = "network_failure"
	ReasonProtocolFailure     RejectionReason = "protocol_failure"
	ReasonTransactionNotFound RejectionReason = "transaction_not_found"
	ReasonVerificationFailed  RejectionReason = "verification_failed"
	ReasonInvalidSignature    RejectionReason = "invalid_signature"
	ReasonAmountMismatch      RejectionReason = "amount_mismatch"
	ReasonMissingFields       RejectionReason = "missing_fields"
	ReasonInvalidFields       RejectionReason = "invalid_fields"
	ReasonInvalidIntent       RejectionReason = "invalid_intent"
	ReasonUnknownReference    RejectionReason = "unknown_reference"
	ReasonPersistenceError    RejectionReason = "persistence_error"
	ReasonConfigurationError  RejectionReason = "configuration_error"
)

// Rejection describes why a callback did not produce a booking
type Rejection struct {
	Reason    RejectionReason     `json:"error"`
	Message   string              `json:"message"`
	Fields    []string            `json:"fields,omitempty"`
	Retryable bool                `json:"retryable"`
	FromState ReconciliationState `json:"state"`

	// Set when the failure happened after the payload was decoded
	TransactionUUID  string `json:"transaction_uuid,omitempty"`
	BookingReference string `json:"booking_reference,omitempty"`
}

// CommittedBooking is the successful outcome of a callback
type CommittedBooking struct {
	Booking   *Booking `json:"booking"`
	Duplicate bool     `json:"duplicate"`
}

// ReconciliationResult holds exactly one of Committed or Rejected
type ReconciliationResult struct {
	State     ReconciliationState `json:"state"`
	Committed *CommittedBooking   `json:"committed,omitempty"`
	Rejected  *Rejection          `json:"rejected,omitempty"`
}

// IsCommitted reports whether a booking exists for the callback
func (r *ReconciliationResult) IsCommitted() bool {
	return r.Committed != nil
}
