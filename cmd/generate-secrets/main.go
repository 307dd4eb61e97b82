package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/travelnepal/booking-backend/internal/utils"
	"github.com/travelnepal/booking-backend/pkg/jwt"
)

func main() {
	adminUser := flag.String("admin", "", "issue an admin token for this username using ADMIN_TOKEN_SECRET")
	roles := flag.String("roles", "auditor", "comma separated roles for the admin token")
	ttl := flag.Duration("ttl", 12*time.Hour, "admin token lifetime")
	flag.Parse()

	if *adminUser != "" {
		issueAdminToken(*adminUser, strings.Split(*roles, ","), *ttl)
		return
	}

	fmt.Println("===========================================")
	fmt.Println("Token Secret Generator for Tour Bookings")
	fmt.Println("===========================================")
	fmt.Println()

	intentSecret, adminSecret, err := utils.GenerateTokenSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("INTENT_TOKEN_SECRET=%s\n", intentSecret)
	fmt.Printf("ADMIN_TOKEN_SECRET=%s\n", adminSecret)
	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}

func issueAdminToken(username string, roles []string, ttl time.Duration) {
	_ = godotenv.Load()

	secret := os.Getenv("ADMIN_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("ADMIN_TOKEN_SECRET is not set")
	}

	for i := range roles {
		roles[i] = strings.TrimSpace(roles[i])
	}

	token, err := jwt.NewService("", secret, 0, ttl).GenerateAdminToken(username, roles)
	if err != nil {
		log.Fatalf("Failed to issue admin token: %v", err)
	}

	fmt.Println(token)
}
