package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelnepal/booking-backend/internal/database"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/pkg/esewa"
	"github.com/travelnepal/booking-backend/pkg/mailer"
)

// fakeBookingStore is an in-memory BookingStore with the same idempotency
// rule as the database store
type fakeBookingStore struct {
	mu        sync.Mutex
	packages  map[int64]*models.TourPackage
	travelers map[int64]*models.Traveler
	bookings  map[string]*models.Booking
	nextID    int64
	commits   int
	commitErr error
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{
		packages: map[int64]*models.TourPackage{
			3: {ID: 3, Title: "Poon Hill Trek", Price: 1800},
			7: {ID: 7, Title: "Chitwan Safari", Price: 2450},
		},
		travelers: map[int64]*models.Traveler{
			42: {ID: 42, Name: "Hari Thapa", Email: "hari@example.com", PhoneNumber: "9801234567", Address: "Pokhara"},
		},
		bookings: make(map[string]*models.Booking),
		nextID:   100,
	}
}

func (s *fakeBookingStore) GetPackage(ctx context.Context, id int64) (*models.TourPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packages[id], nil
}

func (s *fakeBookingStore) GetTraveler(ctx context.Context, id int64) (*models.Traveler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.travelers[id], nil
}

func (s *fakeBookingStore) FindByTransactionUUID(ctx context.Context, transactionUUID string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[transactionUUID], nil
}

func (s *fakeBookingStore) CommitBooking(ctx context.Context, params database.CommitBookingParams) (*models.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commits++
	if s.commitErr != nil {
		return nil, false, s.commitErr
	}
	if existing, ok := s.bookings[params.TransactionUUID]; ok {
		return existing, true, nil
	}

	intent := params.Intent
	pkg, ok := s.packages[intent.PackageID]
	if !ok {
		return nil, false, &models.NotFoundError{Resource: "package", ID: fmt.Sprint(intent.PackageID)}
	}

	var traveler *models.Traveler
	if intent.TravelerID != nil {
		traveler, ok = s.travelers[*intent.TravelerID]
		if !ok {
			return nil, false, &models.NotFoundError{Resource: "traveler", ID: fmt.Sprint(*intent.TravelerID)}
		}
	} else {
		for _, t := range s.travelers {
			if strings.EqualFold(t.Email, intent.TravelerEmail) || t.PhoneNumber == intent.TravelerPhone {
				traveler = t
				break
			}
		}
		if traveler == nil {
			traveler = &models.Traveler{
				ID:          s.newID(),
				Name:        intent.TravelerName,
				Email:       intent.TravelerEmail,
				PhoneNumber: intent.TravelerPhone,
				Address:     intent.TravelerAddress,
			}
			s.travelers[traveler.ID] = traveler
		}
	}

	ticket := &models.Ticket{ID: s.newID(), PackageID: pkg.ID, TravelerID: traveler.ID}
	ref := intent.BookingReference
	code := params.TransactionCode
	payment := &models.Payment{
		ID:                   s.newID(),
		Amount:               intent.PaymentAmount,
		TravelerID:           traveler.ID,
		TicketID:             ticket.ID,
		PackageID:            pkg.ID,
		ESewaTransactionUUID: params.TransactionUUID,
		ESewaTransactionCode: &code,
		ESewaRawResponse:     params.RawResponse,
		BookingReference:     &ref,
		CreatedAt:            time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	booking := &models.Booking{Traveler: traveler, Package: pkg, Ticket: ticket, Payment: payment}
	s.bookings[params.TransactionUUID] = booking
	return booking, false, nil
}

func (s *fakeBookingStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// memoryAuditRepo keeps audit entries in order
type memoryAuditRepo struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (r *memoryAuditRepo) Log(ctx context.Context, audit *models.PaymentAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, audit)
	return nil
}

func (r *memoryAuditRepo) GetByTransactionUUID(ctx context.Context, transactionUUID string) ([]*models.PaymentAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PaymentAudit
	for _, e := range r.entries {
		if e.TransactionUUID != nil && *e.TransactionUUID == transactionUUID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryAuditRepo) GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PaymentAudit
	for _, e := range r.entries {
		if e.AmountsMatch != nil && !*e.AmountsMatch && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryAuditRepo) events() []models.PaymentEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.EventType)
	}
	return out
}

// recordingMailer captures confirmations instead of sending them
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.BookingConfirmation
	err  error
}

func (m *recordingMailer) SendBookingConfirmation(ctx context.Context, c mailer.BookingConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// statusServer stands in for the eSewa status endpoint
type statusServer struct {
	*httptest.Server
	mu     sync.Mutex
	status string
	total  string
	code   int
	hits   int
}

func newStatusServer(t *testing.T, status, total string) *statusServer {
	s := &statusServer{status: status, total: total, code: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.hits++

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.code)
		fmt.Fprintf(w, `{"product_code":"EPAYTEST","transaction_uuid":%q,"total_amount":%s,"status":%q,"ref_id":"000AE01"}`,
			r.URL.Query().Get("transaction_uuid"), s.total, s.status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) hitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func newGateway(t *testing.T, statusURL string) *esewa.Client {
	client, err := esewa.NewClient(esewa.Config{
		Environment: "test",
		ProductCode: esewa.TestProductCode,
		SecretKey:   esewa.TestSecretKey,
		StatusURL:   statusURL,
		Timeout:     2 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	return client
}

// signedCallback builds the base64 data parameter eSewa appends to the success URL
func signedCallback(t *testing.T, transactionUUID, status, total string) string {
	fields := map[string]string{
		"transaction_code":   "000AWEO",
		"status":             status,
		"total_amount":       total,
		"transaction_uuid":   transactionUUID,
		"product_code":       esewa.TestProductCode,
		"signed_field_names": "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",
	}
	signer, err := esewa.NewSigner(esewa.TestSecretKey)
	require.NoError(t, err)
	message, err := esewa.FieldsMessage(fields["signed_field_names"], fields)
	require.NoError(t, err)
	fields["signature"] = signer.Sign(message)

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

type reconcileFixture struct {
	service *ReconciliationService
	store   *fakeBookingStore
	audits  *memoryAuditRepo
	mailer  *recordingMailer
	server  *statusServer
	carrier *IntentCarrier
}

func setupReconcile(t *testing.T, status, total string, opts ReconciliationOptions) *reconcileFixture {
	f := &reconcileFixture{
		store:   newFakeBookingStore(),
		audits:  &memoryAuditRepo{},
		mailer:  &recordingMailer{},
		server:  newStatusServer(t, status, total),
		carrier: NewIntentCarrier(nil, nil, 0, testLogger()),
	}
	f.service = NewReconciliationService(
		f.store,
		newGateway(t, f.server.URL),
		f.carrier,
		NewAuditService(f.audits, testLogger()),
		f.mailer,
		opts,
		testLogger(),
	)
	return f
}

func (f *reconcileFixture) input(t *testing.T, intent *models.BookingIntent, data string) CallbackInput {
	values, err := f.carrier.Encode(intent)
	require.NoError(t, err)
	return CallbackInput{
		Data:     data,
		Query:    values,
		Metadata: models.RequestMetadata{IPAddress: "27.34.68.10", CorrelationID: "req-1", Method: http.MethodGet},
	}
}

const testTxnUUID = "250314-093000-ab12"

func TestReconcile_CommitsNewTraveler(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800.0", ReconciliationOptions{VerifyCallbackSignature: true})

	result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800.0")))
	f.service.Wait()

	require.Nil(t, result.Rejected)
	require.NotNil(t, result.Committed)
	assert.Equal(t, models.StateCommitted, result.State)
	assert.False(t, result.Committed.Duplicate)

	booking := result.Committed.Booking
	assert.Equal(t, "Sita Sharma", booking.Traveler.Name)
	assert.Equal(t, int64(3), booking.Package.ID)
	assert.Equal(t, testTxnUUID, booking.Payment.ESewaTransactionUUID)
	assert.Equal(t, "000AE01", booking.Payment.ESewaRefID())
	assert.Equal(t, true, booking.Payment.ESewaRawResponse["verified"])

	assert.Equal(t, 1, f.server.hitCount())
	assert.Equal(t, []models.PaymentEventType{
		models.PaymentEventCallbackReceived,
		models.PaymentEventStatusCheckRequest,
		models.PaymentEventStatusCheckResponse,
		models.PaymentEventSuccess,
		models.PaymentEventBookingConfirmed,
	}, f.audits.events())

	require.Equal(t, 1, f.mailer.count())
	assert.Equal(t, "sita@example.com", f.mailer.sent[0].ToEmail)
	assert.Equal(t, "BK0A1B2C3D4E", f.mailer.sent[0].BookingReference)
}

func TestReconcile_DuplicateCallbacks(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
	input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800"))

	first := f.service.Reconcile(context.Background(), input)
	second := f.service.Reconcile(context.Background(), input)
	f.service.Wait()

	require.True(t, first.IsCommitted())
	require.True(t, second.IsCommitted())
	assert.False(t, first.Committed.Duplicate)
	assert.True(t, second.Committed.Duplicate)
	assert.Equal(t, first.Committed.Booking.Ticket.ID, second.Committed.Booking.Ticket.ID)
	assert.Equal(t, first.Committed.Booking.Payment.ID, second.Committed.Booking.Payment.ID)

	assert.Len(t, f.store.bookings, 1)
	assert.Equal(t, 1, f.mailer.count(), "replays must not send another email")
	assert.Contains(t, f.audits.events(), models.PaymentEventDuplicateCallback)

	t.Run("Concurrent", func(t *testing.T) {
		input := f.input(t, existingTraveler(), signedCallback(t, "250314-094500-cd34", "COMPLETE", "1800"))
		f.server.mu.Lock()
		f.server.total = "2450"
		f.server.mu.Unlock()

		var (
			wg      sync.WaitGroup
			results = make([]*models.ReconciliationResult, 5)
		)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = f.service.Reconcile(context.Background(), input)
			}(i)
		}
		wg.Wait()
		f.service.Wait()

		fresh := 0
		for _, r := range results {
			require.True(t, r.IsCommitted())
			assert.Equal(t, results[0].Committed.Booking.Ticket.ID, r.Committed.Booking.Ticket.ID)
			if !r.Committed.Duplicate {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh)
		assert.Len(t, f.store.bookings, 2)
	})
}

func TestReconcile_NotCompleteNeverCommits(t *testing.T) {
	for _, status := range []string{"PENDING", "CANCELED", "FULL_REFUND", "AMBIGUOUS"} {
		t.Run(status, func(t *testing.T) {
			f := setupReconcile(t, status, "1800", ReconciliationOptions{})

			result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

			require.NotNil(t, result.Rejected)
			assert.Equal(t, models.StateRejected, result.State)
			assert.Equal(t, models.ReasonVerificationFailed, result.Rejected.Reason)
			assert.Equal(t, models.StateDataDecoded, result.Rejected.FromState)
			assert.False(t, result.Rejected.Retryable)
			assert.Equal(t, 0, f.store.commits)
		})
	}
}

func TestReconcile_DecodedStatusNotComplete(t *testing.T) {
	for _, status := range []string{"PENDING", "CANCELED"} {
		t.Run(status, func(t *testing.T) {
			f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{VerifyCallbackSignature: true})

			result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, status, "1800")))

			require.NotNil(t, result.Rejected)
			assert.Nil(t, result.Committed)
			assert.Equal(t, models.ReasonVerificationFailed, result.Rejected.Reason)
			assert.Equal(t, models.StateDataDecoded, result.Rejected.FromState)
			assert.Equal(t, 0, f.store.commits)
			assert.Empty(t, f.store.bookings)
			assert.Equal(t, 0, f.server.hitCount())
			assert.Equal(t, 0, f.mailer.count())
		})
	}
}

func TestReconcile_DecodeError(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})

	for name, data := range map[string]string{
		"Empty":           "",
		"Not base64":      "%%%not-base64%%%",
		"Missing uuid":    base64.StdEncoding.EncodeToString([]byte(`{"status":"COMPLETE","total_amount":"1800"}`)),
		"Not a key/value": base64.StdEncoding.EncodeToString([]byte("garbage")),
	} {
		t.Run(name, func(t *testing.T) {
			result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), data))

			require.NotNil(t, result.Rejected)
			assert.Equal(t, models.ReasonDecodeError, result.Rejected.Reason)
			assert.Equal(t, models.StateAwaitingCallback, result.Rejected.FromState)
			assert.Equal(t, "BK0A1B2C3D4E", result.Rejected.BookingReference)
		})
	}
	assert.Equal(t, 0, f.server.hitCount())
	assert.Equal(t, 0, f.store.commits)
}

func TestReconcile_MissingFields(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})

	intent := newTraveler()
	intent.TravelerPhone = ""
	intent.TravelerAddress = ""

	result := f.service.Reconcile(context.Background(), f.input(t, intent, signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

	require.NotNil(t, result.Rejected)
	assert.Equal(t, models.ReasonMissingFields, result.Rejected.Reason)
	assert.Equal(t, []string{models.FieldTravelerPhone, models.FieldTravelerAddress}, result.Rejected.Fields)
	assert.Equal(t, models.StateTransactionVerified, result.Rejected.FromState)
	assert.Equal(t, 0, f.store.commits)
}

func TestReconcile_InvalidFields(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})

	input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800"))
	input.Query.Set(models.FieldPackageID, "three")

	result := f.service.Reconcile(context.Background(), input)

	require.NotNil(t, result.Rejected)
	assert.Equal(t, models.ReasonInvalidFields, result.Rejected.Reason)
	assert.Equal(t, []string{models.FieldPackageID}, result.Rejected.Fields)
}

func TestReconcile_AmountMismatch(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "10.0", ReconciliationOptions{})

	result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "10.0")))

	require.NotNil(t, result.Rejected)
	assert.Equal(t, models.ReasonAmountMismatch, result.Rejected.Reason)
	assert.Equal(t, models.StateDataDecoded, result.Rejected.FromState)
	assert.Contains(t, result.Rejected.Message, "expected 1800")
	assert.Equal(t, 0, f.store.commits)

	mismatches, err := NewAuditService(f.audits, testLogger()).AmountMismatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, int64(1800), *mismatches[0].ExpectedAmount)
	assert.Equal(t, int64(10), *mismatches[0].ReceivedAmount)

	t.Run("Fractional amounts compare as whole rupees", func(t *testing.T) {
		f := setupReconcile(t, "COMPLETE", "2450.0", ReconciliationOptions{})
		result := f.service.Reconcile(context.Background(), f.input(t, existingTraveler(), signedCallback(t, "u-frac", "COMPLETE", "2450.0")))
		f.service.Wait()
		assert.True(t, result.IsCommitted())
	})
}

func TestReconcile_GatewayFailures(t *testing.T) {
	t.Run("Network failure", func(t *testing.T) {
		f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
		f.server.Close()

		result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonNetworkFailure, result.Rejected.Reason)
		assert.True(t, result.Rejected.Retryable)
	})

	tests := []struct {
		name      string
		code      int
		reason    models.RejectionReason
		retryable bool
	}{
		{"Transaction not found", http.StatusNotFound, models.ReasonTransactionNotFound, false},
		{"Gateway error", http.StatusInternalServerError, models.ReasonProtocolFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
			f.server.code = tt.code

			result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

			require.NotNil(t, result.Rejected)
			assert.Equal(t, tt.reason, result.Rejected.Reason)
			assert.Equal(t, tt.retryable, result.Rejected.Retryable)
			assert.Equal(t, 0, f.store.commits)
		})
	}
}

func TestReconcile_SkipVerification(t *testing.T) {
	t.Run("Allowed", func(t *testing.T) {
		f := setupReconcile(t, "PENDING", "1800", ReconciliationOptions{AllowSkipVerification: true})
		input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800"))
		input.SkipVerification = true

		result := f.service.Reconcile(context.Background(), input)
		f.service.Wait()

		require.True(t, result.IsCommitted())
		assert.Equal(t, 0, f.server.hitCount())
		assert.Equal(t, false, result.Committed.Booking.Payment.ESewaRawResponse["verified"])
	})

	t.Run("Allowed but payload not complete", func(t *testing.T) {
		f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{AllowSkipVerification: true})
		input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "PENDING", "1800"))
		input.SkipVerification = true

		result := f.service.Reconcile(context.Background(), input)

		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonVerificationFailed, result.Rejected.Reason)
		assert.Equal(t, 0, f.store.commits)
	})

	t.Run("Requested but not allowed", func(t *testing.T) {
		f := setupReconcile(t, "PENDING", "1800", ReconciliationOptions{})
		input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800"))
		input.SkipVerification = true

		result := f.service.Reconcile(context.Background(), input)

		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonVerificationFailed, result.Rejected.Reason)
		assert.Equal(t, 1, f.server.hitCount())
	})
}

func TestReconcile_InvalidSignature(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{VerifyCallbackSignature: true})

	raw, err := base64.StdEncoding.DecodeString(signedCallback(t, testTxnUUID, "COMPLETE", "1800"))
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["total_amount"] = "18000"
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)

	result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), base64.StdEncoding.EncodeToString(tampered)))

	require.NotNil(t, result.Rejected)
	assert.Equal(t, models.ReasonInvalidSignature, result.Rejected.Reason)
	assert.Equal(t, 0, f.server.hitCount())
}

func TestReconcile_ReferenceErrors(t *testing.T) {
	t.Run("Unknown package", func(t *testing.T) {
		f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
		intent := newTraveler()
		intent.PackageID = 999

		result := f.service.Reconcile(context.Background(), f.input(t, intent, signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonUnknownReference, result.Rejected.Reason)
		assert.Equal(t, models.StateFieldsValidated, result.Rejected.FromState)
		assert.Contains(t, f.audits.events(), models.PaymentEventBookingConfirmFail)
	})

	t.Run("Persistence failure", func(t *testing.T) {
		f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
		f.store.commitErr = &database.PersistenceError{Attempts: 3, Err: errors.New("could not serialize access")}

		result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800")))

		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonPersistenceError, result.Rejected.Reason)
		assert.True(t, result.Rejected.Retryable)
		assert.Equal(t, 0, f.mailer.count())
		assert.Contains(t, f.audits.events(), models.PaymentEventError)
	})
}

func TestReconcile_IntentToken(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
	f.service.carrier = NewIntentCarrier(testTokens(), nil, 0, testLogger())
	f.carrier = f.service.carrier

	input := f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800"))
	input.Query.Set(models.FieldTravelerEmail, "attacker@example.com")

	result := f.service.Reconcile(context.Background(), input)

	require.NotNil(t, result.Rejected)
	assert.Equal(t, models.ReasonInvalidIntent, result.Rejected.Reason)
	assert.Contains(t, result.Rejected.Fields, models.FieldIntentToken)
	assert.Equal(t, 0, f.store.commits)
}

func TestReconcile_IntentReference(t *testing.T) {
	store := newMemoryIntentStore()
	require.NoError(t, store.Save(context.Background(), newTraveler()))

	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
	f.service.carrier = NewIntentCarrier(nil, store, 0, testLogger())

	data := signedCallback(t, testTxnUUID, "COMPLETE", "1800")

	t.Run("Resolves", func(t *testing.T) {
		result := f.service.Reconcile(context.Background(), CallbackInput{
			Data:  data,
			Query: url.Values{models.FieldIntentRef: {"BK0A1B2C3D4E"}},
		})
		f.service.Wait()
		require.True(t, result.IsCommitted())
		assert.Equal(t, "Sita Sharma", result.Committed.Booking.Traveler.Name)
	})

	t.Run("Expired", func(t *testing.T) {
		result := f.service.Reconcile(context.Background(), CallbackInput{
			Data:  signedCallback(t, "u-expired", "COMPLETE", "1800"),
			Query: url.Values{models.FieldIntentRef: {"BK000000DEAD"}},
		})
		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonInvalidIntent, result.Rejected.Reason)
		assert.Equal(t, "BK000000DEAD", result.Rejected.BookingReference)
	})

	t.Run("Store unavailable", func(t *testing.T) {
		store.err = errors.New("dial tcp: connection refused")
		defer func() { store.err = nil }()

		result := f.service.Reconcile(context.Background(), CallbackInput{
			Data:  signedCallback(t, "u-down", "COMPLETE", "1800"),
			Query: url.Values{models.FieldIntentRef: {"BK0A1B2C3D4E"}},
		})
		require.NotNil(t, result.Rejected)
		assert.Equal(t, models.ReasonPersistenceError, result.Rejected.Reason)
		assert.True(t, result.Rejected.Retryable)
	})
}

func TestReconcile_MailerFailureDoesNotFailBooking(t *testing.T) {
	f := setupReconcile(t, "COMPLETE", "1800", ReconciliationOptions{})
	f.mailer.err = errors.New("mailersend: 429")

	result := f.service.Reconcile(context.Background(), f.input(t, newTraveler(), signedCallback(t, testTxnUUID, "COMPLETE", "1800")))
	f.service.Wait()

	assert.True(t, result.IsCommitted())
	assert.Equal(t, 1, f.mailer.count())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		reason models.RejectionReason
		want   int
	}{
		{models.ReasonDecodeError, http.StatusBadRequest},
		{models.ReasonMissingFields, http.StatusBadRequest},
		{models.ReasonInvalidFields, http.StatusBadRequest},
		{models.ReasonInvalidIntent, http.StatusBadRequest},
		{models.ReasonUnknownReference, http.StatusNotFound},
		{models.ReasonTransactionNotFound, http.StatusNotFound},
		{models.ReasonVerificationFailed, http.StatusPaymentRequired},
		{models.ReasonInvalidSignature, http.StatusPaymentRequired},
		{models.ReasonAmountMismatch, http.StatusPaymentRequired},
		{models.ReasonNetworkFailure, http.StatusBadGateway},
		{models.ReasonProtocolFailure, http.StatusBadGateway},
		{models.ReasonPersistenceError, http.StatusServiceUnavailable},
		{models.ReasonConfigurationError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.reason))
		})
	}
}
