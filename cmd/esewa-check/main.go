package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/pkg/esewa"
)

// esewa-check signs a sample payment form and optionally queries the status
// endpoint, to confirm credentials against the sandbox or production gateway.
func main() {
	amount := flag.Float64("amount", 100, "amount in rupees for the sample form")
	transactionUUID := flag.String("status", "", "query the status of this transaction UUID")
	total := flag.String("total", "", "total_amount to send with -status")
	baseURL := flag.String("base-url", "http://localhost:8080", "public base URL used for the redirect URLs")
	flag.Parse()

	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	environment := getEnv("ESEWA_ENVIRONMENT", "test")
	productCode := getEnv("ESEWA_PRODUCT_CODE", esewa.TestProductCode)
	secretKey := os.Getenv("ESEWA_SECRET_KEY")
	if secretKey == "" && environment == "test" {
		secretKey = esewa.TestSecretKey
	}

	client, err := esewa.NewClient(esewa.Config{
		Environment: environment,
		ProductCode: productCode,
		SecretKey:   secretKey,
		PaymentURL:  os.Getenv("ESEWA_PAYMENT_URL"),
		StatusURL:   os.Getenv("ESEWA_STATUS_URL"),
		Timeout:     15 * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create eSewa client: %v", err)
	}

	fmt.Println("=== eSewa Check ===")
	fmt.Printf("Environment:  %s\n", client.Environment())
	fmt.Printf("Product code: %s\n", client.ProductCode())
	fmt.Printf("Payment URL:  %s\n\n", client.PaymentURL())

	if *transactionUUID == "" {
		request, err := client.BuildPaymentRequest(esewa.PaymentParams{
			Amount:     *amount,
			SuccessURL: *baseURL + "/api/v1/esewa/v2/success",
			FailureURL: *baseURL + "/api/v1/esewa/v2/failure",
		})
		if err != nil {
			log.Fatalf("Failed to build payment request: %v", err)
		}
		printJSON(request)
		fmt.Println("\nPOST these fields as a form to the payment URL to pay in the browser.")
		return
	}

	if *total == "" {
		log.Fatal("-total is required with -status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	status, err := client.VerifyTransaction(ctx, *transactionUUID, *total)
	if status != nil {
		printJSON(status)
	}
	if err != nil {
		fmt.Printf("\nVerification failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nTransaction is COMPLETE")
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
