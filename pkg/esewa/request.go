package esewa

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentParams are the inputs for a payment request
type PaymentParams struct {
	Amount          float64
	TransactionUUID string // optional, generated when empty
	SuccessURL      string
	FailureURL      string
}

// PaymentRequest holds the form fields posted to the eSewa payment form
type PaymentRequest struct {
	Amount                string `json:"amount" url:"amount"`
	TaxAmount             string `json:"tax_amount" url:"tax_amount"`
	TotalAmount           string `json:"total_amount" url:"total_amount"`
	TransactionUUID       string `json:"transaction_uuid" url:"transaction_uuid"`
	ProductCode           string `json:"product_code" url:"product_code"`
	ProductServiceCharge  string `json:"product_service_charge" url:"product_service_charge"`
	ProductDeliveryCharge string `json:"product_delivery_charge" url:"product_delivery_charge"`
	SuccessURL            string `json:"success_url" url:"success_url"`
	FailureURL            string `json:"failure_url" url:"failure_url"`
	SignedFieldNames      string `json:"signed_field_names" url:"signed_field_names"`
	Signature             string `json:"signature" url:"signature"`
}

// BuildPaymentRequest creates a signed payment request.
// Amounts are truncated to whole rupees; the gateway rejects fractions.
func (c *Client) BuildPaymentRequest(params PaymentParams) (*PaymentRequest, error) {
	if math.IsNaN(params.Amount) || math.IsInf(params.Amount, 0) {
		return nil, &ValidationError{Field: "amount", Message: "must be a finite number"}
	}
	amount := int64(math.Trunc(params.Amount))
	if amount < 1 {
		return nil, &ValidationError{Field: "amount", Message: "must be at least 1"}
	}
	if err := validateRedirectURL(params.SuccessURL); err != nil {
		return nil, &ValidationError{Field: "success_url", Message: err.Error()}
	}
	if err := validateRedirectURL(params.FailureURL); err != nil {
		return nil, &ValidationError{Field: "failure_url", Message: err.Error()}
	}

	transactionUUID := params.TransactionUUID
	if transactionUUID == "" {
		transactionUUID = c.newUUID()
	}

	var tax, serviceCharge, deliveryCharge int64
	total := amount + tax + serviceCharge + deliveryCharge

	req := &PaymentRequest{
		Amount:                strconv.FormatInt(amount, 10),
		TaxAmount:             strconv.FormatInt(tax, 10),
		TotalAmount:           strconv.FormatInt(total, 10),
		TransactionUUID:       transactionUUID,
		ProductCode:           c.config.ProductCode,
		ProductServiceCharge:  strconv.FormatInt(serviceCharge, 10),
		ProductDeliveryCharge: strconv.FormatInt(deliveryCharge, 10),
		SuccessURL:            params.SuccessURL,
		FailureURL:            params.FailureURL,
		SignedFieldNames:      SignedFieldNames,
	}

	if err := req.checkTotal(); err != nil {
		return nil, &ConfigurationError{Message: "payment amount arithmetic", Err: err}
	}

	req.Signature = c.signer.Sign(RequestMessage(req.TotalAmount, req.TransactionUUID, req.ProductCode))

	c.logger.WithFields(logrus.Fields{
		"transaction_uuid": req.TransactionUUID,
		"total_amount":     req.TotalAmount,
		"product_code":     req.ProductCode,
	}).Info("eSewa payment request built")

	return req, nil
}

// FormValues encodes the request as form fields
func (r *PaymentRequest) FormValues() (url.Values, error) {
	values, err := query.Values(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment form: %w", err)
	}
	return values, nil
}

// checkTotal re-parses the rendered fields and confirms
// total_amount == amount + tax_amount + product_service_charge + product_delivery_charge
func (r *PaymentRequest) checkTotal() error {
	parts := []struct {
		name  string
		value string
	}{
		{"amount", r.Amount},
		{"tax_amount", r.TaxAmount},
		{"product_service_charge", r.ProductServiceCharge},
		{"product_delivery_charge", r.ProductDeliveryCharge},
	}

	var sum int64
	for _, p := range parts {
		v, err := strconv.ParseInt(p.value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s is not an integer: %q", p.name, p.value)
		}
		sum += v
	}

	total, err := strconv.ParseInt(r.TotalAmount, 10, 64)
	if err != nil {
		return fmt.Errorf("total_amount is not an integer: %q", r.TotalAmount)
	}
	if total != sum {
		return fmt.Errorf("total_amount %d does not equal sum of components %d", total, sum)
	}
	return nil
}

func validateRedirectURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must be absolute http(s), got scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

func newTransactionUUID() string {
	return uuid.New().String()
}
