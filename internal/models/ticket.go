package models

import "time"

// Ticket links one traveler to one package. Immutable once created.
type Ticket struct {
	ID         int64     `json:"ticket_id" db:"id"`
	PackageID  int64     `json:"package_id" db:"package_id"`
	TravelerID int64     `json:"traveler_id" db:"traveler_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
