package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/models"
	"github.com/travelnepal/booking-backend/pkg/jwt"
)

// DefaultMaxURLLength is the redirect URL size above which intents are
// moved to the intent store
const DefaultMaxURLLength = 2000

// IntentStore persists intents that do not fit in the redirect URL
type IntentStore interface {
	Save(ctx context.Context, intent *models.BookingIntent) error
	Load(ctx context.Context, bookingReference string) (*models.BookingIntent, error)
}

// intentParams is the wire form of a BookingIntent in the success URL
type intentParams struct {
	BookingReference string `url:"booking_reference,omitempty"`
	TravelerID       string `url:"traveler_id,omitempty"`
	TravelerName     string `url:"traveler_name,omitempty"`
	TravelerEmail    string `url:"traveler_email,omitempty"`
	TravelerPhone    string `url:"traveler_phone,omitempty"`
	TravelerAddress  string `url:"traveler_address,omitempty"`
	PackageID        string `url:"package_id,omitempty"`
	PaymentAmount    string `url:"payment_amount,omitempty"`
}

// intentFields are the query keys covered by the intent token digest
var intentFields = []string{
	models.FieldBookingReference,
	models.FieldTravelerID,
	models.FieldTravelerName,
	models.FieldTravelerEmail,
	models.FieldTravelerPhone,
	models.FieldTravelerAddress,
	models.FieldPackageID,
	models.FieldPaymentAmount,
}

// IntentCarrier moves a booking intent through the gateway round trip inside
// the success redirect URL
type IntentCarrier struct {
	tokens       *jwt.Service
	store        IntentStore
	maxURLLength int
	logger       *logrus.Logger
}

// NewIntentCarrier creates an intent carrier. tokens and store may be nil.
func NewIntentCarrier(tokens *jwt.Service, store IntentStore, maxURLLength int, logger *logrus.Logger) *IntentCarrier {
	if maxURLLength <= 0 {
		maxURLLength = DefaultMaxURLLength
	}
	return &IntentCarrier{
		tokens:       tokens,
		store:        store,
		maxURLLength: maxURLLength,
		logger:       logger,
	}
}

func (c *IntentCarrier) tokensEnabled() bool {
	return c.tokens != nil && c.tokens.IntentEnabled()
}

// Encode renders the intent as query values. Empty optional fields are
// omitted and an intent_token is added when intent tokens are enabled.
func (c *IntentCarrier) Encode(intent *models.BookingIntent) (url.Values, error) {
	if intent == nil {
		return nil, fmt.Errorf("intent is required")
	}

	params := intentParams{
		BookingReference: intent.BookingReference,
		TravelerName:     intent.TravelerName,
		TravelerEmail:    intent.TravelerEmail,
		TravelerPhone:    intent.TravelerPhone,
		TravelerAddress:  intent.TravelerAddress,
	}
	if intent.TravelerID != nil {
		params.TravelerID = strconv.FormatInt(*intent.TravelerID, 10)
	}
	if intent.PackageID != 0 {
		params.PackageID = strconv.FormatInt(intent.PackageID, 10)
	}
	if intent.PaymentAmount != 0 {
		params.PaymentAmount = strconv.FormatFloat(intent.PaymentAmount, 'f', -1, 64)
	}

	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking intent: %w", err)
	}

	if c.tokensEnabled() {
		token, err := c.tokens.GenerateIntentToken(intent.BookingReference, intentDigest(values))
		if err != nil {
			return nil, err
		}
		values.Set(models.FieldIntentToken, token)
	}

	return values, nil
}

// BuildSuccessURL appends the encoded intent to base. When the result reaches
// the URL budget a warning is logged and, if an intent store is configured,
// the intent is stored and only intent_ref is carried.
func (c *IntentCarrier) BuildSuccessURL(ctx context.Context, base string, intent *models.BookingIntent) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid success base URL: %w", err)
	}

	values, err := c.Encode(intent)
	if err != nil {
		return "", err
	}

	full := withQuery(u, values)
	if len(full) < c.maxURLLength {
		return full, nil
	}

	log := c.logger.WithFields(logrus.Fields{
		"booking_reference": intent.BookingReference,
		"url_length":        len(full),
		"max_url_length":    c.maxURLLength,
	})

	if c.store == nil {
		log.Warn("Success URL exceeds length budget and no intent store is configured")
		return full, nil
	}

	if err := c.store.Save(ctx, intent); err != nil {
		return "", fmt.Errorf("failed to store booking intent: %w", err)
	}
	log.Warn("Success URL exceeds length budget, carrying intent reference instead")

	return withQuery(u, url.Values{models.FieldIntentRef: {intent.BookingReference}}), nil
}

// Decode rebuilds the intent from callback query values. The returned intent
// is best effort and is non-nil whenever the values could be read; a
// *models.ValidationError names missing or malformed fields. Any other error
// means the intent store could not be reached.
func (c *IntentCarrier) Decode(ctx context.Context, values url.Values) (*models.BookingIntent, error) {
	if ref := strings.TrimSpace(values.Get(models.FieldIntentRef)); ref != "" {
		return c.load(ctx, ref)
	}

	verr := &models.ValidationError{}
	intent := &models.BookingIntent{
		BookingReference: strings.TrimSpace(values.Get(models.FieldBookingReference)),
		TravelerName:     strings.TrimSpace(values.Get(models.FieldTravelerName)),
		TravelerEmail:    strings.TrimSpace(values.Get(models.FieldTravelerEmail)),
		TravelerPhone:    strings.TrimSpace(values.Get(models.FieldTravelerPhone)),
		TravelerAddress:  strings.TrimSpace(values.Get(models.FieldTravelerAddress)),
	}

	if raw := strings.TrimSpace(values.Get(models.FieldTravelerID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			verr.Invalid = append(verr.Invalid, models.FieldTravelerID)
		} else {
			intent.TravelerID = &id
		}
	}
	if raw := strings.TrimSpace(values.Get(models.FieldPackageID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			verr.Invalid = append(verr.Invalid, models.FieldPackageID)
		} else {
			intent.PackageID = id
		}
	}
	if raw := strings.TrimSpace(values.Get(models.FieldPaymentAmount)); raw != "" {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			verr.Invalid = append(verr.Invalid, models.FieldPaymentAmount)
		} else {
			intent.PaymentAmount = amount
		}
	}

	mergeValidation(verr, intent.Validate())

	if c.tokensEnabled() {
		token := values.Get(models.FieldIntentToken)
		switch {
		case token == "":
			verr.Missing = append(verr.Missing, models.FieldIntentToken)
		default:
			if _, err := c.tokens.ValidateIntentToken(token, intent.BookingReference, intentDigest(values)); err != nil {
				c.logger.WithError(err).WithField("booking_reference", intent.BookingReference).
					Warn("Intent token rejected")
				verr.Invalid = append(verr.Invalid, models.FieldIntentToken)
			}
		}
	}

	if verr.HasErrors() {
		return intent, verr
	}
	return intent, nil
}

func (c *IntentCarrier) load(ctx context.Context, ref string) (*models.BookingIntent, error) {
	if c.store == nil {
		return nil, &models.ValidationError{
			Message: "intent references are not supported",
			Invalid: []string{models.FieldIntentRef},
		}
	}

	intent, err := c.store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking intent %s: %w", ref, err)
	}
	if intent == nil {
		return nil, &models.ValidationError{
			Message: "booking intent expired or unknown",
			Invalid: []string{models.FieldIntentRef},
		}
	}

	if err := intent.Validate(); err != nil {
		return intent, err
	}
	return intent, nil
}

// mergeValidation folds the model's validation into verr. Fields that failed
// to parse are reported as invalid, not also as missing.
func mergeValidation(verr *models.ValidationError, err error) {
	other, ok := err.(*models.ValidationError)
	if !ok || other == nil {
		return
	}

	unparsable := make(map[string]bool, len(verr.Invalid))
	for _, f := range verr.Invalid {
		unparsable[f] = true
	}

	for _, f := range other.Missing {
		if !unparsable[f] {
			verr.Missing = append(verr.Missing, f)
		}
	}
	for _, f := range other.Invalid {
		if !unparsable[f] {
			verr.Invalid = append(verr.Invalid, f)
		}
	}
	if verr.Message == "" {
		verr.Message = other.Message
	}
}

// intentDigest hashes the intent fields present in values, in key order
func intentDigest(values url.Values) string {
	subset := url.Values{}
	for _, key := range intentFields {
		if v, ok := values[key]; ok {
			subset[key] = v
		}
	}
	sum := sha256.Sum256([]byte(subset.Encode()))
	return hex.EncodeToString(sum[:])
}

func withQuery(u *url.URL, values url.Values) string {
	merged := u.Query()
	for key, vs := range values {
		merged[key] = vs
	}
	out := *u
	out.RawQuery = merged.Encode()
	return out.String()
}
