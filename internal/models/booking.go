package models

import (
	"strconv"
)

// Booking is the set of records materialized by one successful payment
type Booking struct {
	Traveler *Traveler    `json:"traveler"`
	Package  *TourPackage `json:"package"`
	Ticket   *Ticket      `json:"ticket"`
	Payment  *Payment     `json:"payment"`
}

// BookingSummary is the flat view handed to the frontend confirmation page
type BookingSummary struct {
	TicketID         string `json:"ticket_id" url:"ticket_id"`
	TravelerID       string `json:"traveler_id" url:"traveler_id"`
	TravelerName     string `json:"traveler_name" url:"traveler_name"`
	TravelerEmail    string `json:"traveler_email" url:"traveler_email"`
	PackageID        string `json:"package_id" url:"package_id"`
	PackageTitle     string `json:"package_title" url:"package_title"`
	PackagePrice     string `json:"package_price" url:"package_price"`
	PaymentAmount    string `json:"payment_amount" url:"payment_amount"`
	PaymentDate      string `json:"payment_date" url:"payment_date"`
	PaymentID        string `json:"payment_id" url:"payment_id"`
	ESewaRefID       string `json:"esewa_ref_id,omitempty" url:"esewa_ref_id,omitempty"`
	TransactionCode  string `json:"transaction_code,omitempty" url:"transaction_code,omitempty"`
	TransactionUUID  string `json:"transaction_uuid" url:"transaction_uuid"`
	BookingReference string `json:"booking_reference" url:"booking_reference"`
	Duplicate        bool   `json:"duplicate,omitempty" url:"duplicate,omitempty"`
}

// Summary flattens the booking. The booking reference falls back to the transaction UUID.
func (b *Booking) Summary() BookingSummary {
	s := BookingSummary{}
	if b.Ticket != nil {
		s.TicketID = strconv.FormatInt(b.Ticket.ID, 10)
	}
	if b.Traveler != nil {
		s.TravelerID = strconv.FormatInt(b.Traveler.ID, 10)
		s.TravelerName = b.Traveler.Name
		s.TravelerEmail = b.Traveler.Email
	}
	if b.Package != nil {
		s.PackageID = strconv.FormatInt(b.Package.ID, 10)
		s.PackageTitle = b.Package.Title
		s.PackagePrice = strconv.FormatInt(b.Package.Price, 10)
	}
	if p := b.Payment; p != nil {
		s.PaymentAmount = strconv.FormatFloat(p.Amount, 'f', 2, 64)
		s.PaymentDate = p.CreatedAt.Format("2006-01-02")
		s.PaymentID = strconv.FormatInt(p.ID, 10)
		s.ESewaRefID = p.ESewaRefID()
		if p.ESewaTransactionCode != nil {
			s.TransactionCode = *p.ESewaTransactionCode
		}
		s.TransactionUUID = p.ESewaTransactionUUID
		s.BookingReference = p.ESewaTransactionUUID
		if p.BookingReference != nil && *p.BookingReference != "" {
			s.BookingReference = *p.BookingReference
		}
	}
	return s
}
