package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/travelnepal/booking-backend/internal/models"
)

const travelerColumns = `id, name, email, phone_number, address, created_at`

// TravelerRepository handles traveler data operations
type TravelerRepository struct {
	db Queryer
}

// NewTravelerRepository creates a new TravelerRepository
func NewTravelerRepository(db Queryer) *TravelerRepository {
	return &TravelerRepository{db: db}
}

// GetByID retrieves a traveler by ID. Returns nil, nil when not found.
func (r *TravelerRepository) GetByID(ctx context.Context, id int64) (*models.Traveler, error) {
	var traveler models.Traveler
	query := `SELECT ` + travelerColumns + ` FROM travelers WHERE id = $1`

	err := r.db.GetContext(ctx, &traveler, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQueryError("failed to get traveler", err)
	}
	return &traveler, nil
}

// FindByEmailOrPhone returns the oldest traveler whose email (case-insensitive)
// or phone number matches. Empty arguments never match.
func (r *TravelerRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.Traveler, error) {
	if email == "" && phone == "" {
		return nil, nil
	}

	var traveler models.Traveler
	query := `
		SELECT ` + travelerColumns + `
		FROM travelers
		WHERE ($1 <> '' AND LOWER(email) = LOWER($1))
		   OR ($2 <> '' AND phone_number = $2)
		ORDER BY id ASC
		LIMIT 1`

	err := r.db.GetContext(ctx, &traveler, query, email, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQueryError("failed to find traveler by email or phone", err)
	}
	return &traveler, nil
}

// Create inserts a traveler and fills in ID and CreatedAt
func (r *TravelerRepository) Create(ctx context.Context, traveler *models.Traveler) error {
	query := `
		INSERT INTO travelers (name, email, phone_number, address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		traveler.Name, traveler.Email, traveler.PhoneNumber, traveler.Address,
	).Scan(&traveler.ID, &traveler.CreatedAt)
	if err != nil {
		return wrapQueryError("failed to create traveler", err)
	}
	return nil
}
