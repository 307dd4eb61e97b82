package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/travelnepal/booking-backend/internal/config"
	"github.com/travelnepal/booking-backend/internal/database"
)

// bookingTables hold traveler and payment data. The package catalog is kept.
var bookingTables = []string{
	"payment_audits",
	"payments",
	"tickets",
	"travelers",
}

func main() {
	var dbURLFlag string
	var keepAudits bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&keepAudits, "keep-audits", false, "leave payment_audits untouched")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		log.Fatal("refusing to clear booking data in production")
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	tables := bookingTables
	if keepAudits {
		tables = tables[1:]
	}

	fmt.Println("Connected to database. Truncating booking tables...")

	truncateSQL := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := db.Exec(truncateSQL); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	fmt.Println("Booking data cleared (tables truncated, identities reset).")

	fmt.Println("Post-clear row counts:")
	for _, t := range bookingTables {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			fmt.Printf("  %s: error: %v\n", t, err)
			continue
		}
		fmt.Printf("  %s: %d\n", t, count)
	}
}
