package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Order is the slice of an order the payment service needs.
type Order struct {
	ID          uint   `json:"id"`
	UserID      uint   `json:"userId"`
	TotalAmount int64  `json:"totalAmount"`
	Status      string `json:"status"`
}

// Client talks to the order service over its internal HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetOrder returns nil, nil when the order does not exist.
func (c *Client) GetOrder(ctx context.Context, orderID uint) (*Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/internal/orders/%d", orderID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out Order
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("orders: decode order %d: %w", orderID, err)
	}
	return &out, nil
}

type paymentStatusUpdate struct {
	PaymentStatus string `json:"paymentStatus"`
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId,omitempty"`
}

// UpdatePaymentStatus tells the order service about a settled payment.
func (c *Client) UpdatePaymentStatus(ctx context.Context, orderID uint, status, paymentID, transactionID string) error {
	body, err := json.Marshal(paymentStatusUpdate{PaymentStatus: status, PaymentID: paymentID, TransactionID: transactionID})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, fmt.Sprintf("/internal/orders/%d/payment-status", orderID), body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("orders: %s %s: %d %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(b)))
}
