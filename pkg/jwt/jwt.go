package jwt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	IntentToken TokenType = "intent"
	AdminToken  TokenType = "admin"
)

const issuer = "travelnepal-booking"

var (
	// ErrSecretNotConfigured is returned when the secret for a token type is empty
	ErrSecretNotConfigured = errors.New("token secret is not configured")

	// ErrIntentMismatch is returned when an intent token does not match the intent it travels with
	ErrIntentMismatch = errors.New("intent token does not match booking intent")
)

// IntentClaims binds a booking reference (jti) to a digest of the intent fields
type IntentClaims struct {
	Digest    string    `json:"digest"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// AdminClaims identifies an operator allowed to read payment audits
type AdminClaims struct {
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Service handles JWT operations
type Service struct {
	intentSecret string
	adminSecret  string
	intentExpiry time.Duration
	adminExpiry  time.Duration
}

// NewService creates a new JWT service. An empty secret disables that token type.
func NewService(intentSecret, adminSecret string, intentExpiry, adminExpiry time.Duration) *Service {
	return &Service{
		intentSecret: intentSecret,
		adminSecret:  adminSecret,
		intentExpiry: intentExpiry,
		adminExpiry:  adminExpiry,
	}
}

// IntentEnabled reports whether intent tokens are issued and checked
func (s *Service) IntentEnabled() bool { return s.intentSecret != "" }

// AdminEnabled reports whether admin tokens can be validated
func (s *Service) AdminEnabled() bool { return s.adminSecret != "" }

// GenerateIntentToken signs the digest of a booking intent
func (s *Service) GenerateIntentToken(bookingReference, digest string) (string, error) {
	if !s.IntentEnabled() {
		return "", ErrSecretNotConfigured
	}

	now := time.Now()
	claims := IntentClaims{
		Digest:    digest,
		TokenType: IntentToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        bookingReference,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.intentExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.intentSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign intent token: %w", err)
	}

	return tokenString, nil
}

// ValidateIntentToken checks the token signature and expiry, then that it
// was issued for this booking reference and intent digest
func (s *Service) ValidateIntentToken(tokenString, bookingReference, digest string) (*IntentClaims, error) {
	if !s.IntentEnabled() {
		return nil, ErrSecretNotConfigured
	}

	claims := &IntentClaims{}
	if err := parse(tokenString, s.intentSecret, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != IntentToken {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", IntentToken, claims.TokenType)
	}

	if claims.ID != bookingReference ||
		subtle.ConstantTimeCompare([]byte(claims.Digest), []byte(digest)) != 1 {
		return nil, ErrIntentMismatch
	}

	return claims, nil
}

// GenerateAdminToken generates a token for the admin API
func (s *Service) GenerateAdminToken(username string, roles []string) (string, error) {
	if !s.AdminEnabled() {
		return "", ErrSecretNotConfigured
	}

	now := time.Now()
	claims := AdminClaims{
		Username:  username,
		Roles:     roles,
		TokenType: AdminToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.adminExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.adminSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}

	return tokenString, nil
}

// ValidateAdminToken validates and parses an admin token
func (s *Service) ValidateAdminToken(tokenString string) (*AdminClaims, error) {
	if !s.AdminEnabled() {
		return nil, ErrSecretNotConfigured
	}

	claims := &AdminClaims{}
	if err := parse(tokenString, s.adminSecret, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != AdminToken {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", AdminToken, claims.TokenType)
	}

	return claims, nil
}

func parse(tokenString, secret string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	return nil
}

// ExtractClaims extracts registered claims from a token without validation (for debugging)
func (s *Service) ExtractClaims(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// IsTokenExpired checks if a token is expired
func (s *Service) IsTokenExpired(tokenString string) bool {
	claims, err := s.ExtractClaims(tokenString)
	if err != nil {
		return true
	}

	if claims.ExpiresAt == nil {
		return true
	}

	return claims.ExpiresAt.Time.Before(time.Now())
}

// GetTokenExpiry returns the expiry time of a token
func (s *Service) GetTokenExpiry(tokenString string) (time.Time, error) {
	claims, err := s.ExtractClaims(tokenString)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no expiry time")
	}

	return claims.ExpiresAt.Time, nil
}
