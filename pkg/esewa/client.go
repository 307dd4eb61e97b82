package esewa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
)

// Sandbox credentials published by eSewa for merchant integration testing
const (
	TestProductCode = "EPAYTEST"
	TestSecretKey   = "8gBm/:&EnhH.1/q"
)

// StatusComplete is the only status that counts as a successful payment
const StatusComplete = "COMPLETE"

// DefaultTimeout bounds the remote status check
const DefaultTimeout = 15 * time.Second

// Endpoints holds the gateway URLs for one environment
type Endpoints struct {
	PaymentURL string
	StatusURL  string
}

// EnvironmentEndpoints maps environment names to eSewa ePay v2 endpoints
var EnvironmentEndpoints = map[string]Endpoints{
	"test": {
		PaymentURL: "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
		StatusURL:  "https://rc.esewa.com.np/api/epay/transaction/status/",
	},
	"production": {
		PaymentURL: "https://epay.esewa.com.np/api/epay/main/v2/form",
		StatusURL:  "https://epay.esewa.com.np/api/epay/transaction/status/",
	},
}

// Config is the explicit gateway configuration handed to NewClient
type Config struct {
	Environment string // "test" or "production"
	ProductCode string
	SecretKey   string // never sent to the browser
	PaymentURL  string // overrides the environment default
	StatusURL   string // overrides the environment default
	Timeout     time.Duration
}

// Client talks to the eSewa ePay v2 gateway
type Client struct {
	config  Config
	signer  *Signer
	client  *http.Client
	logger  *logrus.Logger
	newUUID func() string
}

// StatusQuery is the query string sent to the status endpoint
type StatusQuery struct {
	ProductCode     string `url:"product_code"`
	TotalAmount     string `url:"total_amount"`
	TransactionUUID string `url:"transaction_uuid"`
	Signature       string `url:"signature,omitempty"`
}

// StatusResponse is the status endpoint's JSON body
type StatusResponse struct {
	ProductCode     string  `json:"product_code"`
	TransactionUUID string  `json:"transaction_uuid"`
	TotalAmount     Amount  `json:"total_amount"`
	Status          string  `json:"status"`
	RefID           *string `json:"ref_id"`

	HTTPStatusCode int    `json:"-"`
	RawBody        string `json:"-"`
}

// NewClient validates cfg and creates a gateway client
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.Environment == "" {
		cfg.Environment = "test"
	}
	endpoints, ok := EnvironmentEndpoints[cfg.Environment]
	if !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("unknown environment %q", cfg.Environment)}
	}
	if cfg.PaymentURL == "" {
		cfg.PaymentURL = endpoints.PaymentURL
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = endpoints.StatusURL
	}
	if cfg.ProductCode == "" {
		return nil, &ConfigurationError{Message: "product code is required"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	signer, err := NewSigner(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config: cfg,
		signer: signer,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger,
		newUUID: newTransactionUUID,
	}, nil
}

// Signer exposes the client's signer for inbound signature checks
func (c *Client) Signer() *Signer {
	return c.signer
}

// PaymentURL returns the form URL the browser posts to
func (c *Client) PaymentURL() string {
	return c.config.PaymentURL
}

// ProductCode returns the merchant product code
func (c *Client) ProductCode() string {
	return c.config.ProductCode
}

// Environment returns "test" or "production"
func (c *Client) Environment() string {
	return c.config.Environment
}

// VerifyTransaction asks the gateway for the status of a transaction.
// A nil error means the gateway reported COMPLETE. The response is returned
// whenever one was parsed, including for non-complete statuses.
func (c *Client) VerifyTransaction(ctx context.Context, transactionUUID, totalAmount string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params, err := query.Values(StatusQuery{
		ProductCode:     c.config.ProductCode,
		TotalAmount:     totalAmount,
		TransactionUUID: transactionUUID,
		Signature:       c.signer.Sign(RequestMessage(totalAmount, transactionUUID, c.config.ProductCode)),
	})
	if err != nil {
		return nil, &VerificationError{Kind: VerificationProtocol, Message: "failed to encode status query", Err: err}
	}

	separator := "?"
	if strings.Contains(c.config.StatusURL, "?") {
		separator = "&"
	}
	endpoint := c.config.StatusURL + separator + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &VerificationError{Kind: VerificationProtocol, Message: "failed to create status request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	logger := c.logger.WithFields(logrus.Fields{
		"transaction_uuid": transactionUUID,
		"total_amount":     totalAmount,
		"environment":      c.config.Environment,
	})
	logger.Info("Checking eSewa transaction status")

	resp, err := c.client.Do(req)
	if err != nil {
		msg := "status request failed"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			msg = fmt.Sprintf("status request timed out after %s", c.config.Timeout)
		}
		logger.WithError(err).Warn("eSewa status check network failure")
		return nil, &VerificationError{Kind: VerificationNetwork, Message: msg, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &VerificationError{Kind: VerificationNetwork, StatusCode: resp.StatusCode, Message: "failed to read status response", Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		logger.Warn("eSewa reports transaction not found")
		return nil, &VerificationError{Kind: VerificationNotFound, StatusCode: resp.StatusCode, Message: "transaction not found"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WithField("http_status", resp.StatusCode).Warn("eSewa status check returned non-2xx")
		return nil, &VerificationError{
			Kind:       VerificationProtocol,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	var status StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &VerificationError{Kind: VerificationProtocol, StatusCode: resp.StatusCode, Message: "status response is not valid JSON", Err: err}
	}
	status.HTTPStatusCode = resp.StatusCode
	status.RawBody = string(body)

	if status.Status == "" {
		return &status, &VerificationError{Kind: VerificationProtocol, StatusCode: resp.StatusCode, Message: "status response has no status field"}
	}

	logger.WithField("status", status.Status).Info("eSewa status received")

	if strings.ToUpper(strings.TrimSpace(status.Status)) != StatusComplete {
		return &status, &VerificationError{
			Kind:       VerificationNotComplete,
			StatusCode: resp.StatusCode,
			Status:     status.Status,
			Message:    fmt.Sprintf("gateway reported status %s", status.Status),
		}
	}

	return &status, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
