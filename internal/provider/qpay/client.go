package qpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qpay-bridge/config"
	"qpay-bridge/internal/domain"

	"go.uber.org/zap"
)

const (
	// Two total attempts per logical call: the original request plus one
	// retry after a forced token refresh. A second 401 is terminal.
	maxAuthAttempts = 2

	requestTimeout = 30 * time.Second
)

// Client talks to the QPay merchant API. All requests go through Do, which
// attaches the current bearer token and transparently re-authenticates once
// when the gateway answers 401. Safe for concurrent use.
type Client struct {
	cfg        config.QPayConfig
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	logger     *zap.Logger
}

func NewClient(cfg config.QPayConfig, logger *zap.Logger) *Client {
	baseURL := "https://merchant-sandbox.qpay.mn/v2"
	if cfg.Environment == "production" {
		baseURL = "https://merchant.qpay.mn/v2"
	}
	return newClient(cfg, baseURL, logger)
}

// NewClientWithBaseURL targets an explicit endpoint, used against fake
// gateways in tests.
func NewClientWithBaseURL(cfg config.QPayConfig, baseURL string, logger *zap.Logger) *Client {
	return newClient(cfg, baseURL, logger)
}

func newClient(cfg config.QPayConfig, baseURL string, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		tokens:     NewTokenStore(),
		logger:     logger,
	}
}

// Tokens exposes the token store so callers can force a refresh.
func (c *Client) Tokens() *TokenStore { return c.tokens }

// Authenticate performs the client-credentials exchange and stores the
// resulting token. The raw secret is never logged.
func (c *Client) Authenticate(ctx context.Context) error {
	url := c.baseURL + "/auth/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	issuedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: "authenticate", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn("gateway rejected credentials",
			zap.Int("status", resp.StatusCode),
			zap.String("username", c.cfg.Username))
		return fmt.Errorf("%w: status %d", domain.ErrInvalidCredentials, resp.StatusCode)
	default:
		return &domain.UnexpectedResponseError{
			Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return &domain.UnexpectedResponseError{Reason: "token response is not valid JSON"}
	}
	if tok.AccessToken == "" || tok.ExpiresIn <= 0 {
		return &domain.UnexpectedResponseError{Reason: "token response missing access_token or expires_in"}
	}

	c.tokens.Set(tok.AccessToken, issuedAt, tok.ExpiresIn)

	c.logger.Info("gateway authentication succeeded",
		zap.Int("token_length", len(tok.AccessToken)),
		zap.Time("expires_at", c.tokens.Expiry()))

	return nil
}

// Do issues an authenticated request against the gateway. On a 401 it clears
// the cached token, re-authenticates and retries exactly once; a second 401
// surfaces ErrAuthRetryExhausted. Any other non-2xx status is returned as a
// GatewayError for the caller to judge.
func (c *Client) Do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		if !c.tokens.Valid(time.Now()) {
			if err := c.Authenticate(ctx); err != nil {
				return nil, err
			}
		}
		token, _ := c.tokens.Token()

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			c.logger.Warn("gateway returned 401, forcing token refresh",
				zap.String("path", path),
				zap.Int("attempt", attempt+1))
			c.tokens.Clear()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &domain.GatewayError{Status: resp.StatusCode, Body: string(respBody)}
		}

		return respBody, nil
	}

	return nil, domain.ErrAuthRetryExhausted
}

// CreateInvoice registers a new invoice with the gateway and returns its id
// and QR payload. The request must already be validated.
func (c *Client) CreateInvoice(ctx context.Context, req *domain.InvoiceRequest) (*InvoiceResponse, error) {
	lines := make([]invoiceLine, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		lines = append(lines, invoiceLine{
			LineDescription: item.Description,
			LineQuantity:    item.Quantity,
			LineUnitPrice:   item.UnitPrice,
		})
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Payment for order %s", req.OrderID)
	}

	receiverCode := req.Receiver.Email
	if receiverCode == "" {
		receiverCode = "terminal"
	}

	wire := invoiceRequest{
		InvoiceCode:         c.cfg.InvoiceCode,
		SenderInvoiceNo:     req.OrderID,
		InvoiceReceiverCode: receiverCode,
		InvoiceDescription:  description,
		Amount:              req.Amount,
		CallbackURL:         req.CallbackURL,
		Lines:               lines,
	}

	body, err := c.Do(ctx, http.MethodPost, "/invoice", wire)
	if err != nil {
		return nil, err
	}

	var resp InvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UnexpectedResponseError{Reason: "invoice response is not valid JSON"}
	}
	if resp.InvoiceID == "" {
		return nil, &domain.UnexpectedResponseError{Reason: "invoice response missing invoice_id"}
	}

	return &resp, nil
}

// CheckPayment asks the gateway for payments recorded against an invoice.
func (c *Client) CheckPayment(ctx context.Context, invoiceID string) (*PaymentCheckResponse, error) {
	req := paymentCheckRequest{
		ObjectType: "INVOICE",
		ObjectID:   invoiceID,
		Offset:     paymentCheckOffset{PageNumber: 1, PageLimit: 100},
	}

	body, err := c.Do(ctx, http.MethodPost, "/payment/check", req)
	if err != nil {
		return nil, err
	}

	var resp PaymentCheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UnexpectedResponseError{Reason: "payment check response is not valid JSON"}
	}
	return &resp, nil
}

// CancelInvoice voids an unpaid invoice on the gateway.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) error {
	_, err := c.Do(ctx, http.MethodDelete, "/invoice/"+invoiceID, nil)
	return err
}

// GetPayment fetches a single payment by its gateway id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentRow, error) {
	body, err := c.Do(ctx, http.MethodGet, "/payment/"+paymentID, nil)
	if err != nil {
		return nil, err
	}

	var row PaymentRow
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, &domain.UnexpectedResponseError{Reason: "payment response is not valid JSON"}
	}
	return &row, nil
}
