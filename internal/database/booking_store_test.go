package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelnepal/booking-backend/internal/models"
)

var (
	travelerCols = []string{"id", "name", "email", "phone_number", "address", "created_at"}
	packageCols  = []string{"id", "package_code", "title", "description", "price", "duration_days", "group_size",
		"start_date", "cover_image", "tour_highlights", "tour_details", "created_at"}
	ticketCols  = []string{"id", "package_id", "traveler_id", "created_at"}
	paymentCols = []string{"id", "amount", "created_at", "traveler_id", "ticket_id", "package_id",
		"esewa_transaction_uuid", "esewa_transaction_code", "esewa_status", "esewa_signature",
		"esewa_raw_response", "payment_method", "booking_reference"}
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupBookingStoreTest(t *testing.T) (*BookingStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	postgresDB := &PostgresDB{DB: sqlxDB}
	logger := testLogger()

	runner := NewTxRunner(postgresDB, 3, logger)
	runner.backoff = time.Millisecond

	store := NewBookingStore(postgresDB, runner, logger)

	cleanup := func() {
		db.Close()
	}
	return store, mock, cleanup
}

func newTravelerIntent() *models.BookingIntent {
	return &models.BookingIntent{
		BookingReference: "BK1A2B3C4D5E",
		TravelerName:     "Sita Sharma",
		TravelerEmail:    "sita@example.com",
		TravelerPhone:    "9841000000",
		TravelerAddress:  "Lalitpur",
		PackageID:        3,
		PaymentAmount:    1800,
	}
}

func commitParams(intent *models.BookingIntent) CommitBookingParams {
	return CommitBookingParams{
		Intent:          intent,
		TransactionUUID: "7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c",
		TransactionCode: "000AWEO",
		Status:          "COMPLETE",
		Signature:       "sig",
		RawResponse:     models.JSONB{"decoded_data": map[string]interface{}{"status": "COMPLETE"}},
	}
}

func packageRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(packageCols).AddRow(
		int64(3), "EBC-14", "Everest Base Camp", "Classic trek", int64(1800), 14, 12,
		now, nil, []byte(`{"Kala Patthar sunrise","Sherpa culture"}`), []byte(`{"Day 1: Lukla"}`), now,
	)
}

func expectNoPayment(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM payments WHERE esewa_transaction_uuid").
		WithArgs("7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c").
		WillReturnRows(sqlmock.NewRows(paymentCols))
}

func expectExistingBooking(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectQuery("FROM payments WHERE esewa_transaction_uuid").
		WithArgs("7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c").
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow(
			int64(30), 1800.0, now, int64(10), int64(20), int64(3),
			"7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c", "000AWEO", "COMPLETE", "sig",
			[]byte(`{"verification_response":{"ref_id":"0001TS9"}}`), "esewa", "BK1A2B3C4D5E",
		))
	mock.ExpectQuery("FROM travelers WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(travelerCols).AddRow(int64(10), "Sita Sharma", "sita@example.com", "9841000000", "Lalitpur", now))
	mock.ExpectQuery("FROM packages WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(packageRow(now))
	mock.ExpectQuery("FROM tickets WHERE id").
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows(ticketCols).AddRow(int64(20), int64(3), int64(10), now))
}

func expectInserts(mock sqlmock.Sqlmock, travelerID int64, now time.Time) {
	mock.ExpectQuery("INSERT INTO tickets").
		WithArgs(int64(3), travelerID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(20), now))
	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(1800.0, travelerID, int64(20), int64(3),
			"7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c", "000AWEO", "COMPLETE", "sig",
			sqlmock.AnyArg(), "esewa", "BK1A2B3C4D5E").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(30), now))
}

func TestCommitBooking_CreatesNewTraveler(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectBegin()
	expectNoPayment(mock)
	mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(packageRow(now))
	mock.ExpectQuery("LOWER\\(email\\)").
		WithArgs("sita@example.com", "9841000000").
		WillReturnRows(sqlmock.NewRows(travelerCols))
	mock.ExpectQuery("INSERT INTO travelers").
		WithArgs("Sita Sharma", "sita@example.com", "9841000000", "Lalitpur").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), now))
	expectInserts(mock, 10, now)
	mock.ExpectCommit()

	booking, duplicate, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))
	require.NoError(t, err)
	assert.False(t, duplicate)

	assert.Equal(t, int64(10), booking.Traveler.ID)
	assert.Equal(t, int64(20), booking.Ticket.ID)
	assert.Equal(t, int64(30), booking.Payment.ID)
	assert.Equal(t, "Everest Base Camp", booking.Package.Title)
	assert.Equal(t, models.StringArray{"Kala Patthar sunrise", "Sherpa culture"}, booking.Package.TourHighlights)
	assert.Equal(t, "esewa", booking.Payment.PaymentMethod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_ReusesTravelerMatchedByEmail(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	intent := newTravelerIntent()
	intent.TravelerPhone = "9800000000"

	mock.ExpectBegin()
	expectNoPayment(mock)
	mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(packageRow(now))
	mock.ExpectQuery("LOWER\\(email\\)").
		WithArgs("sita@example.com", "9800000000").
		WillReturnRows(sqlmock.NewRows(travelerCols).AddRow(int64(7), "Sita S.", "Sita@Example.com", "9841000000", "Patan", now))
	// no INSERT INTO travelers expected
	expectInserts(mock, 7, now)
	mock.ExpectCommit()

	booking, duplicate, err := store.CommitBooking(context.Background(), commitParams(intent))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, int64(7), booking.Traveler.ID)
	assert.Equal(t, "Sita S.", booking.Traveler.Name)
	assert.Equal(t, int64(7), booking.Ticket.TravelerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_ExistingTravelerID(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	id := int64(42)
	intent := &models.BookingIntent{
		BookingReference: "BK1A2B3C4D5E",
		TravelerID:       &id,
		PackageID:        3,
		PaymentAmount:    1800,
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		expectNoPayment(mock)
		mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(packageRow(now))
		mock.ExpectQuery("FROM travelers WHERE id").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(travelerCols).AddRow(id, "Hari", "hari@example.com", "9851000000", "Pokhara", now))
		expectInserts(mock, id, now)
		mock.ExpectCommit()

		booking, _, err := store.CommitBooking(context.Background(), commitParams(intent))
		require.NoError(t, err)
		assert.Equal(t, id, booking.Traveler.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown traveler", func(t *testing.T) {
		mock.ExpectBegin()
		expectNoPayment(mock)
		mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(packageRow(now))
		mock.ExpectQuery("FROM travelers WHERE id").WithArgs(id).WillReturnRows(sqlmock.NewRows(travelerCols))
		mock.ExpectRollback()

		booking, _, err := store.CommitBooking(context.Background(), commitParams(intent))
		assert.Nil(t, booking)

		var nf *models.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "traveler", nf.Resource)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommitBooking_UnknownPackage(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()

	mock.ExpectBegin()
	expectNoPayment(mock)
	mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(sqlmock.NewRows(packageCols))
	mock.ExpectRollback()

	_, _, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))

	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "package", nf.Resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_DuplicateReturnsOriginal(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectBegin()
	expectExistingBooking(mock, now)
	mock.ExpectCommit()

	booking, duplicate, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, int64(30), booking.Payment.ID)
	assert.Equal(t, int64(20), booking.Ticket.ID)
	assert.Equal(t, "0001TS9", booking.Payment.ESewaRefID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_ConcurrentCallbackLosesUniqueRace(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	// First attempt: another callback commits the same transaction uuid first
	mock.ExpectBegin()
	expectNoPayment(mock)
	mock.ExpectQuery("FROM packages WHERE id").WithArgs(int64(3)).WillReturnRows(packageRow(now))
	mock.ExpectQuery("LOWER\\(email\\)").WillReturnRows(sqlmock.NewRows(travelerCols))
	mock.ExpectQuery("INSERT INTO travelers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))
	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(21), now))
	mock.ExpectQuery("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	// Retry sees the committed payment and returns it
	mock.ExpectBegin()
	expectExistingBooking(mock, now)
	mock.ExpectCommit()

	booking, duplicate, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, int64(20), booking.Ticket.ID)
	assert.Equal(t, int64(30), booking.Payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_SerializationFailureRetried(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM payments WHERE esewa_transaction_uuid").
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectNoPayment(mock)
	mock.ExpectQuery("FROM packages WHERE id").WillReturnRows(packageRow(now))
	mock.ExpectQuery("LOWER\\(email\\)").WillReturnRows(sqlmock.NewRows(travelerCols))
	mock.ExpectQuery("INSERT INTO travelers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), now))
	expectInserts(mock, 10, now)
	mock.ExpectCommit()

	booking, duplicate, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, int64(30), booking.Payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBooking_PersistenceErrors(t *testing.T) {
	t.Run("Query failure", func(t *testing.T) {
		store, mock, cleanup := setupBookingStoreTest(t)
		defer cleanup()

		mock.ExpectBegin()
		expectNoPayment(mock)
		mock.ExpectQuery("FROM packages WHERE id").WillReturnError(errors.New("connection reset by peer"))
		mock.ExpectRollback()

		_, _, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))

		var pErr *PersistenceError
		require.True(t, errors.As(err, &pErr))
		assert.Equal(t, 1, pErr.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Retries exhausted", func(t *testing.T) {
		store, mock, cleanup := setupBookingStoreTest(t)
		defer cleanup()

		for i := 0; i < 3; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery("FROM payments WHERE esewa_transaction_uuid").
				WillReturnError(&pq.Error{Code: "40001"})
			mock.ExpectRollback()
		}

		_, _, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))

		var pErr *PersistenceError
		require.True(t, errors.As(err, &pErr))
		assert.Equal(t, 3, pErr.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Begin failure", func(t *testing.T) {
		store, mock, cleanup := setupBookingStoreTest(t)
		defer cleanup()

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, _, err := store.CommitBooking(context.Background(), commitParams(newTravelerIntent()))

		var pErr *PersistenceError
		assert.True(t, errors.As(err, &pErr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindByTransactionUUID(t *testing.T) {
	store, mock, cleanup := setupBookingStoreTest(t)
	defer cleanup()
	now := time.Now()

	t.Run("Found", func(t *testing.T) {
		expectExistingBooking(mock, now)

		booking, err := store.FindByTransactionUUID(context.Background(), "7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c")
		require.NoError(t, err)
		require.NotNil(t, booking)
		assert.Equal(t, "Sita Sharma", booking.Traveler.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		expectNoPayment(mock)

		booking, err := store.FindByTransactionUUID(context.Background(), "7f3c2a1e-5b6d-4c8e-9a0f-1d2e3f4a5b6c")
		assert.NoError(t, err)
		assert.Nil(t, booking)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Serialization failure", &pq.Error{Code: "40001"}, true},
		{"Deadlock", &pq.Error{Code: "40P01"}, true},
		{"Unique violation", &pq.Error{Code: "23505"}, true},
		{"Wrapped serialization failure", wrapQueryError("failed", &pq.Error{Code: "40001"}), true},
		{"Foreign key violation", &pq.Error{Code: "23503"}, false},
		{"Plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}
