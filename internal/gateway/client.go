// Package gateway holds the payment processor client. The processor is an
// external HTTP service; every call is bounded by the caller's context and a
// timeout there means unknown outcome, reconciled later via webhook.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
	}, nil
}

type chargeRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
	RefundID      string `json:"refund_id"`
	Approved      bool   `json:"approved"`
	Code          string `json:"code"`
}

func (c *Client) Authorize(ctx context.Context, amount domain.Money, method string) (port.GatewayResult, error) {
	resp, err := c.post(ctx, "/v1/authorize", chargeRequest{
		Amount:   amount.Amount.StringFixed(2),
		Currency: amount.Currency.String(),
		Method:   method,
	})
	if err != nil {
		return port.GatewayResult{}, err
	}

	return port.GatewayResult{
		TransactionID: resp.TransactionID,
		Approved:      resp.Approved,
		Code:          resp.Code,
	}, nil
}

func (c *Client) Capture(ctx context.Context, transactionID string, amount domain.Money) (port.GatewayResult, error) {
	resp, err := c.post(ctx, "/v1/capture", chargeRequest{
		Amount:        amount.Amount.StringFixed(2),
		Currency:      amount.Currency.String(),
		TransactionID: transactionID,
	})
	if err != nil {
		return port.GatewayResult{}, err
	}

	return port.GatewayResult{
		TransactionID: resp.TransactionID,
		Approved:      resp.Approved,
		Code:          resp.Code,
	}, nil
}

func (c *Client) Refund(ctx context.Context, transactionID string, amount domain.Money) (port.RefundResult, error) {
	resp, err := c.post(ctx, "/v1/refund", chargeRequest{
		Amount:        amount.Amount.StringFixed(2),
		Currency:      amount.Currency.String(),
		TransactionID: transactionID,
	})
	if err != nil {
		return port.RefundResult{}, err
	}

	return port.RefundResult{
		RefundID: resp.RefundID,
		Approved: resp.Approved,
		Code:     resp.Code,
	}, nil
}

func (c *Client) Void(ctx context.Context, transactionID string) error {
	_, err := c.post(ctx, "/v1/void", chargeRequest{TransactionID: transactionID})
	return err
}

func (c *Client) post(ctx context.Context, path string, body chargeRequest) (chargeResponse, error) {
	var out chargeResponse

	payload, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("processor returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("json.Decode: %w", err)
	}

	return out, nil
}
