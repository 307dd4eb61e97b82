package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/travelnepal/booking-backend/internal/models"
)

// TicketRepository handles ticket data operations
type TicketRepository struct {
	db Queryer
}

// NewTicketRepository creates a new TicketRepository
func NewTicketRepository(db Queryer) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create inserts a ticket and fills in ID and CreatedAt
func (r *TicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	query := `
		INSERT INTO tickets (package_id, traveler_id)
		VALUES ($1, $2)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query, ticket.PackageID, ticket.TravelerID).
		Scan(&ticket.ID, &ticket.CreatedAt)
	if err != nil {
		return wrapQueryError("failed to create ticket", err)
	}
	return nil
}

// GetByID retrieves a ticket by ID. Returns nil, nil when not found.
func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	query := `SELECT id, package_id, traveler_id, created_at FROM tickets WHERE id = $1`

	err := r.db.GetContext(ctx, &ticket, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQueryError("failed to get ticket", err)
	}
	return &ticket, nil
}
