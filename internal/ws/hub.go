package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"paygate/internal/models"
)

// Client is one websocket connection following a single payment.
type Client struct {
	PaymentRef string
	Send       chan []byte
	Hub        *Hub
	mu         sync.Mutex
	closed     bool
}

func NewClient(paymentRef string) *Client {
	return &Client{PaymentRef: paymentRef, Send: make(chan []byte, 16)}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
	close(c.Send)
}

// Hub fans payment status changes out to the connections watching them.
type Hub struct {
	mu    sync.RWMutex
	byRef map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byRef: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	if h.byRef[c.PaymentRef] == nil {
		h.byRef[c.PaymentRef] = make(map[*Client]struct{})
	}
	h.byRef[c.PaymentRef][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byRef[c.PaymentRef]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byRef, c.PaymentRef)
		}
	}
}

// StatusMessage is the frame pushed to watchers.
type StatusMessage struct {
	Type          string     `json:"type"`
	PaymentID     string     `json:"paymentId"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	PaymentMethod string     `json:"paymentMethod"`
	TransactionID string     `json:"transactionId,omitempty"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
}

func NewStatusMessage(p *models.Payment) StatusMessage {
	return StatusMessage{
		Type:          "payment_status",
		PaymentID:     p.PaymentID,
		Status:        p.Status,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
		TransactionID: p.TxnID(),
		PaymentDate:   p.PaymentDate,
	}
}

// Publish sends payload to every client of paymentRef. Slow clients drop the
// frame instead of blocking the publisher.
func (h *Hub) Publish(paymentRef string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byRef[paymentRef]))
	for c := range h.byRef[paymentRef] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.trySend(data)
	}
}

func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// PaymentStatusChanged lets the hub act as a reconciliation listener.
func (h *Hub) PaymentStatusChanged(_ context.Context, p *models.Payment) error {
	h.Publish(p.PaymentID, NewStatusMessage(p))
	return nil
}

func (h *Hub) ClientCount(paymentRef string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRef[paymentRef])
}
