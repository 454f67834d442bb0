package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qpay-bridge/config"

	"go.uber.org/zap"
)

// ShopifyClient updates orders on the Shopify Admin REST API when a gateway
// payment settles: it records a capture transaction and appends a note with
// the gateway reference.
type ShopifyClient struct {
	cfg        config.ShopifyConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewShopifyClient(cfg config.ShopifyConfig, logger *zap.Logger) *ShopifyClient {
	baseURL := fmt.Sprintf("https://%s/admin/api/%s", cfg.ShopDomain, cfg.APIVersion)
	return NewShopifyClientWithBaseURL(cfg, baseURL, logger)
}

// NewShopifyClientWithBaseURL targets an explicit endpoint, used against
// fake servers in tests.
func NewShopifyClientWithBaseURL(cfg config.ShopifyConfig, baseURL string, logger *zap.Logger) *ShopifyClient {
	return &ShopifyClient{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Order is the subset of the Shopify order we read back.
type Order struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FinancialStatus string `json:"financial_status"`
	TotalPrice      string `json:"total_price"`
	Currency        string `json:"currency"`
	Note            string `json:"note"`
}

type orderEnvelope struct {
	Order Order `json:"order"`
}

type transactionRequest struct {
	Transaction struct {
		Kind          string `json:"kind"`
		Amount        string `json:"amount"`
		Currency      string `json:"currency"`
		Authorization string `json:"authorization,omitempty"`
		Status        string `json:"status"`
	} `json:"transaction"`
}

// GetOrder fetches an order by its numeric Shopify id.
func (c *ShopifyClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%s.json", orderID), nil)
	if err != nil {
		return nil, err
	}

	var envelope orderEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	return &envelope.Order, nil
}

// MarkPaid records a capture transaction on the order and appends a note
// carrying the gateway transaction reference.
func (c *ShopifyClient) MarkPaid(ctx context.Context, orderID string, amount int64, currency, gatewayTxID string) error {
	c.logger.Info("marking order paid on shopify",
		zap.String("order_id", orderID),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
		zap.String("gateway_tx_id", gatewayTxID))

	var req transactionRequest
	req.Transaction.Kind = "capture"
	req.Transaction.Amount = fmt.Sprintf("%d", amount)
	req.Transaction.Currency = currency
	req.Transaction.Authorization = gatewayTxID
	req.Transaction.Status = "success"

	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/transactions.json", orderID), req); err != nil {
		return fmt.Errorf("failed to create capture transaction: %w", err)
	}

	note := fmt.Sprintf("Paid via QPay, transaction %s", gatewayTxID)
	if err := c.appendNote(ctx, orderID, note); err != nil {
		// The capture is already recorded; a note failure is not fatal.
		c.logger.Warn("failed to append paid note to order",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	return nil
}

// MarkFailed annotates the order with the payment failure reason.
func (c *ShopifyClient) MarkFailed(ctx context.Context, orderID string, reason string) error {
	c.logger.Info("annotating failed payment on shopify",
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	note := fmt.Sprintf("QPay payment failed: %s", reason)
	return c.appendNote(ctx, orderID, note)
}

func (c *ShopifyClient) appendNote(ctx context.Context, orderID, note string) error {
	payload := map[string]interface{}{
		"order": map[string]interface{}{
			"id":   orderID,
			"note": note,
		},
	}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/orders/%s.json", orderID), payload)
	return err
}

func (c *ShopifyClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call shopify: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read shopify response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
