package models

import "time"

// TourPackage represents a bookable tour package
type TourPackage struct {
	ID             int64       `json:"id" db:"id"`
	PackageCode    string      `json:"package_id" db:"package_code"`
	Title          string      `json:"title" db:"title"`
	Description    string      `json:"description" db:"description"`
	Price          int64       `json:"price" db:"price"`
	DurationDays   int         `json:"duration" db:"duration_days"`
	GroupSize      int         `json:"group_size" db:"group_size"`
	StartDate      time.Time   `json:"start_date" db:"start_date"`
	CoverImage     *string     `json:"cover_image,omitempty" db:"cover_image"`
	TourHighlights StringArray `json:"tour_highlights" db:"tour_highlights"`
	TourDetails    StringArray `json:"tour_details" db:"tour_details"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}
