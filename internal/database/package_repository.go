package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/travelnepal/booking-backend/internal/models"
)

// PackageRepository reads tour packages
type PackageRepository struct {
	db Queryer
}

// NewPackageRepository creates a new PackageRepository
func NewPackageRepository(db Queryer) *PackageRepository {
	return &PackageRepository{db: db}
}

// GetByID retrieves a package by ID. Returns nil, nil when not found.
func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.TourPackage, error) {
	var pkg models.TourPackage
	query := `
		SELECT id, package_code, title, description, price, duration_days, group_size,
		       start_date, cover_image, tour_highlights, tour_details, created_at
		FROM packages
		WHERE id = $1`

	err := r.db.GetContext(ctx, &pkg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQueryError("failed to get package", err)
	}
	return &pkg, nil
}
