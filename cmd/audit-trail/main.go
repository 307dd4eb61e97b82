package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/config"
	"github.com/travelnepal/booking-backend/internal/database"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/internal/services"
)

func main() {
	transactionUUID := flag.String("transaction", "", "print the audit trail of this eSewa transaction UUID")
	mismatches := flag.Bool("mismatches", false, "print the most recent amount mismatches")
	limit := flag.Int("limit", 50, "maximum mismatches to print")
	flag.Parse()

	if *transactionUUID == "" && !*mismatches {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	auditService := services.NewAuditService(database.NewPaymentAuditRepository(db, logger), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *transactionUUID != "" {
		audits, err := auditService.Trail(ctx, *transactionUUID)
		if err != nil {
			log.Fatalf("Failed to load audit trail: %v", err)
		}
		fmt.Printf("=== Audit trail for %s (%d entries) ===\n", *transactionUUID, len(audits))
		for _, a := range audits {
			printAudit(a)
		}
	}

	if *mismatches {
		audits, err := auditService.AmountMismatches(ctx, *limit)
		if err != nil {
			log.Fatalf("Failed to load amount mismatches: %v", err)
		}
		fmt.Printf("=== Amount mismatches (%d) ===\n", len(audits))
		for _, a := range audits {
			printAudit(a)
		}
	}
}

func printAudit(a *models.PaymentAudit) {
	line := fmt.Sprintf("%s  %-28s %-15s", a.CreatedAt.Format(time.RFC3339), a.EventType, a.EventSource)
	if a.TransactionUUID != nil {
		line += " txn=" + *a.TransactionUUID
	}
	if a.PaymentStatus != nil {
		line += " status=" + *a.PaymentStatus
	}
	if a.ExpectedAmount != nil && a.ReceivedAmount != nil {
		line += fmt.Sprintf(" expected=%d received=%d", *a.ExpectedAmount, *a.ReceivedAmount)
	}
	if a.ErrorCode != nil {
		line += " error=" + *a.ErrorCode
	}
	if a.IsDuplicate {
		line += " duplicate"
	}
	fmt.Println(line)
}
