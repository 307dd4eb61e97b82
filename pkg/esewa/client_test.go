package esewa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyTransaction_Complete(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		received = map[string]string{
			"product_code":     q.Get("product_code"),
			"total_amount":     q.Get("total_amount"),
			"transaction_uuid": q.Get("transaction_uuid"),
			"signature":        q.Get("signature"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"product_code":"EPAYTEST","transaction_uuid":"11-201-13","total_amount":100.0,"status":"COMPLETE","ref_id":"0001TS9"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	status, err := client.VerifyTransaction(context.Background(), "11-201-13", "100")
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, "COMPLETE", status.Status)
	assert.Equal(t, Amount("100.0"), status.TotalAmount)
	require.NotNil(t, status.RefID)
	assert.Equal(t, "0001TS9", *status.RefID)
	assert.Equal(t, http.StatusOK, status.HTTPStatusCode)
	assert.Contains(t, status.RawBody, "COMPLETE")

	assert.Equal(t, TestProductCode, received["product_code"])
	assert.Equal(t, "100", received["total_amount"])
	assert.Equal(t, "11-201-13", received["transaction_uuid"])
	assert.Equal(t, "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E=", received["signature"])
}

func TestVerifyTransaction_FailureModes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		kind       VerificationKind
		hasStatus  bool
	}{
		{"Pending", http.StatusOK, `{"status":"PENDING","total_amount":"100"}`, VerificationNotComplete, true},
		{"Canceled", http.StatusOK, `{"status":"CANCELED","total_amount":100}`, VerificationNotComplete, true},
		{"Not found", http.StatusNotFound, `{"code":0,"error_message":"Service is currently unavailable"}`, VerificationNotFound, false},
		{"Server error", http.StatusInternalServerError, `oops`, VerificationProtocol, false},
		{"Non JSON", http.StatusOK, `<html>maintenance</html>`, VerificationProtocol, false},
		{"Missing status", http.StatusOK, `{"total_amount":100}`, VerificationProtocol, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			status, err := client.VerifyTransaction(context.Background(), "u-1", "100")

			var vErr *VerificationError
			require.True(t, errors.As(err, &vErr), "expected VerificationError, got %v", err)
			assert.Equal(t, tt.kind, vErr.Kind)
			assert.Equal(t, tt.statusCode, vErr.StatusCode)
			if tt.hasStatus {
				assert.NotNil(t, status)
			} else {
				assert.Nil(t, status)
			}
		})
	}
}

func TestVerifyTransaction_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{
		ProductCode: TestProductCode,
		SecretKey:   TestSecretKey,
		StatusURL:   server.URL,
		Timeout:     50 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	start := time.Now()
	_, err = client.VerifyTransaction(context.Background(), "u-1", "100")
	assert.Less(t, time.Since(start), time.Second)

	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, VerificationNetwork, vErr.Kind)
	assert.Equal(t, 0, vErr.StatusCode)
}

func TestVerifyTransaction_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.VerifyTransaction(context.Background(), "u-1", "100")

	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, VerificationNetwork, vErr.Kind)
}
