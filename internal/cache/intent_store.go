package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/travelnepal/booking-backend/internal/models"
)

// IntentStore keeps booking intents too large for the redirect URL,
// keyed by booking reference
type IntentStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis using a redis:// URL and pings it
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewIntentStore creates an intent store whose entries expire after ttl
func NewIntentStore(client *redis.Client, ttl time.Duration) *IntentStore {
	return &IntentStore{client: client, ttl: ttl}
}

// Save stores the intent under its booking reference
func (s *IntentStore) Save(ctx context.Context, intent *models.BookingIntent) error {
	if intent == nil || intent.BookingReference == "" {
		return fmt.Errorf("intent with booking reference is required")
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, intentKey(intent.BookingReference), payload, s.ttl).Err()
}

// Load returns the stored intent, or nil, nil when the reference is unknown or expired
func (s *IntentStore) Load(ctx context.Context, bookingReference string) (*models.BookingIntent, error) {
	data, err := s.client.Get(ctx, intentKey(bookingReference)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var intent models.BookingIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("corrupt intent %s: %w", bookingReference, err)
	}
	return &intent, nil
}

func intentKey(bookingReference string) string {
	return "intent:" + bookingReference
}
