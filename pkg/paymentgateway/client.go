/**
 * @description
 * This package provides a client for the payment processor's server-side
 * verification API. Charging happens in the buyer's browser through the
 * processor's checkout widget; this client only confirms, after the fact,
 * what the processor recorded for a transaction reference.
 *
 * @dependencies
 * - context, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: exact decoding of the amount field.
 */
package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnreachable covers transport failures, timeouts and 5xx responses. Retryable.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	// ErrReferenceNotFound means the processor has no transaction for the reference.
	ErrReferenceNotFound = errors.New("payment reference not found")
	ErrEmptyReference    = errors.New("payment reference is empty")
	ErrMalformedResponse = errors.New("malformed payment gateway response")
)

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new payment gateway client.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		SecretKey: strings.TrimSpace(secretKey),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// VerifyResponse is the processor's envelope for GET /transaction/verify/{reference}.
type VerifyResponse struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Data    *VerifyResponseData `json:"data"`
}

// VerifyResponseData carries the transaction as the processor recorded it.
// Amount is in the currency's minor unit.
type VerifyResponseData struct {
	Status          string      `json:"status"`
	Reference       string      `json:"reference"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	PaidAt          *time.Time  `json:"paid_at"`
	GatewayResponse string      `json:"gateway_response"`
}

// Verification is the decoded result handed back to callers.
type Verification struct {
	Reference       string
	Status          string
	Amount          int64
	Currency        string
	PaidAt          *time.Time
	GatewayResponse string
}

// ErrorResponse represents a non-2xx answer from the processor that is neither a
// missing reference nor a server-side failure.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Status     bool   `json:"status"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment gateway error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment gateway error (status %d)", e.StatusCode)
}

// VerifyTransaction asks the processor for the recorded state of a reference.
// The bearer secret is the only credential used; nothing the buyer's client
// reported is forwarded.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrEmptyReference
	}

	endpoint := c.BaseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=gateway_client op=verify reference=%s duration_ms=%d msg=\"request failed\" err=%v", reference, time.Since(started).Milliseconds(), err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read verify response: %v", ErrGatewayUnreachable, err)
	}

	if resp.StatusCode >= 500 {
		log.Printf("level=warn component=gateway_client op=verify reference=%s status=%d msg=\"server error\"", reference, resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr != nil {
			log.Printf("level=warn component=gateway_client op=verify reference=%s status=%d msg=\"non-2xx response (unparsable error body)\"", reference, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound || isNotFoundMessage(errResp.Message) {
			return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, reference)
		}
		log.Printf("level=warn component=gateway_client op=verify reference=%s status=%d message=%q", reference, resp.StatusCode, errResp.Message)
		return nil, &errResp
	}

	var verifyResp VerifyResponse
	decoder := json.NewDecoder(bytes.NewReader(bodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&verifyResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if verifyResp.Data == nil {
		if isNotFoundMessage(verifyResp.Message) {
			return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, reference)
		}
		return nil, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	amount, err := minorUnits(verifyResp.Data.Amount)
	if err != nil {
		return nil, err
	}

	return &Verification{
		Reference:       firstNonEmpty(verifyResp.Data.Reference, reference),
		Status:          strings.ToLower(strings.TrimSpace(verifyResp.Data.Status)),
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(verifyResp.Data.Currency)),
		PaidAt:          verifyResp.Data.PaidAt,
		GatewayResponse: verifyResp.Data.GatewayResponse,
	}, nil
}

// minorUnits decodes the processor's amount exactly; fractional minor units are rejected.
func minorUnits(raw json.Number) (int64, error) {
	if strings.TrimSpace(raw.String()) == "" {
		return 0, fmt.Errorf("%w: missing amount", ErrMalformedResponse)
	}
	amount, err := decimal.NewFromString(raw.String())
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrMalformedResponse, raw.String())
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: fractional amount %s", ErrMalformedResponse, amount.String())
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrMalformedResponse, amount.String())
	}
	return amount.IntPart(), nil
}

func isNotFoundMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "not found")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
