package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
)

// CommitBookingParams carries everything needed to materialize a booking
type CommitBookingParams struct {
	Intent          *models.BookingIntent
	TransactionUUID string
	TransactionCode string
	Status          string
	Signature       string
	RawResponse     models.JSONB
}

// BookingStore groups the traveler, package, ticket and payment
// repositories behind one atomic commit
type BookingStore struct {
	db       DB
	txRunner *TxRunner
	logger   *logrus.Logger
}

// NewBookingStore creates a new BookingStore
func NewBookingStore(db DB, txRunner *TxRunner, logger *logrus.Logger) *BookingStore {
	return &BookingStore{
		db:       db,
		txRunner: txRunner,
		logger:   logger,
	}
}

// GetPackage retrieves a package outside any transaction
func (s *BookingStore) GetPackage(ctx context.Context, id int64) (*models.TourPackage, error) {
	return NewPackageRepository(s.db).GetByID(ctx, id)
}

// GetTraveler retrieves a traveler outside any transaction
func (s *BookingStore) GetTraveler(ctx context.Context, id int64) (*models.Traveler, error) {
	return NewTravelerRepository(s.db).GetByID(ctx, id)
}

// FindByTransactionUUID loads a committed booking. Returns nil, nil when none exists.
func (s *BookingStore) FindByTransactionUUID(ctx context.Context, transactionUUID string) (*models.Booking, error) {
	payment, err := NewPaymentRepository(s.db).GetByTransactionUUID(ctx, transactionUUID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, nil
	}
	return loadBooking(ctx, s.db, payment)
}

// CommitBooking resolves the traveler, creates the ticket and creates the
// payment inside one serializable transaction. When a payment for the
// transaction UUID already exists the original booking is returned with
// duplicate=true and nothing is written.
func (s *BookingStore) CommitBooking(ctx context.Context, params CommitBookingParams) (*models.Booking, bool, error) {
	if params.Intent == nil {
		return nil, false, fmt.Errorf("intent is required")
	}
	if params.TransactionUUID == "" {
		return nil, false, fmt.Errorf("transaction uuid is required")
	}

	var (
		booking   *models.Booking
		duplicate bool
	)

	err := s.txRunner.RunSerializable(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		booking, duplicate = nil, false

		payments := NewPaymentRepository(tx)
		existing, err := payments.GetByTransactionUUID(ctx, params.TransactionUUID)
		if err != nil {
			return err
		}
		if existing != nil {
			booking, err = loadBooking(ctx, tx, existing)
			if err != nil {
				return err
			}
			duplicate = true
			return nil
		}

		intent := params.Intent

		pkg, err := NewPackageRepository(tx).GetByID(ctx, intent.PackageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return &models.NotFoundError{Resource: "package", ID: strconv.FormatInt(intent.PackageID, 10)}
		}

		traveler, created, err := s.resolveTraveler(ctx, NewTravelerRepository(tx), intent)
		if err != nil {
			return err
		}

		ticket := &models.Ticket{PackageID: pkg.ID, TravelerID: traveler.ID}
		if err := NewTicketRepository(tx).Create(ctx, ticket); err != nil {
			return err
		}

		payment := &models.Payment{
			Amount:               intent.PaymentAmount,
			TravelerID:           traveler.ID,
			TicketID:             ticket.ID,
			PackageID:            pkg.ID,
			ESewaTransactionUUID: params.TransactionUUID,
			ESewaTransactionCode: optionalString(params.TransactionCode),
			ESewaStatus:          optionalString(params.Status),
			ESewaSignature:       optionalString(params.Signature),
			ESewaRawResponse:     params.RawResponse,
			PaymentMethod:        models.PaymentMethodESewa,
			BookingReference:     optionalString(intent.BookingReference),
		}
		if err := payments.Create(ctx, payment); err != nil {
			return err
		}

		s.logger.WithFields(logrus.Fields{
			"transaction_uuid": params.TransactionUUID,
			"traveler_id":      traveler.ID,
			"traveler_created": created,
			"ticket_id":        ticket.ID,
			"payment_id":       payment.ID,
		}).Info("Booking records created")

		booking = &models.Booking{
			Traveler: traveler,
			Package:  pkg,
			Ticket:   ticket,
			Payment:  payment,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return booking, duplicate, nil
}

// resolveTraveler finds the traveler by id, then by email or phone, and
// creates one only when nothing matches
func (s *BookingStore) resolveTraveler(ctx context.Context, travelers *TravelerRepository, intent *models.BookingIntent) (*models.Traveler, bool, error) {
	if intent.TravelerID != nil {
		traveler, err := travelers.GetByID(ctx, *intent.TravelerID)
		if err != nil {
			return nil, false, err
		}
		if traveler == nil {
			return nil, false, &models.NotFoundError{Resource: "traveler", ID: strconv.FormatInt(*intent.TravelerID, 10)}
		}
		return traveler, false, nil
	}

	traveler, err := travelers.FindByEmailOrPhone(ctx, intent.TravelerEmail, intent.TravelerPhone)
	if err != nil {
		return nil, false, err
	}
	if traveler != nil {
		return traveler, false, nil
	}

	traveler = &models.Traveler{
		Name:        intent.TravelerName,
		Email:       intent.TravelerEmail,
		PhoneNumber: intent.TravelerPhone,
		Address:     intent.TravelerAddress,
	}
	if err := travelers.Create(ctx, traveler); err != nil {
		return nil, false, err
	}
	return traveler, true, nil
}

func loadBooking(ctx context.Context, q Queryer, payment *models.Payment) (*models.Booking, error) {
	traveler, err := NewTravelerRepository(q).GetByID(ctx, payment.TravelerID)
	if err != nil {
		return nil, err
	}
	pkg, err := NewPackageRepository(q).GetByID(ctx, payment.PackageID)
	if err != nil {
		return nil, err
	}
	ticket, err := NewTicketRepository(q).GetByID(ctx, payment.TicketID)
	if err != nil {
		return nil, err
	}
	return &models.Booking{
		Traveler: traveler,
		Package:  pkg,
		Ticket:   ticket,
		Payment:  payment,
	}, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
