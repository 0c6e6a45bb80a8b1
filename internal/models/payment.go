package models

import (
	"time"
)

// Payment is one payment attempt. PaymentID is the platform correlation key
// embedded in the outbound gateway request and echoed back by callbacks.
type Payment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	PaymentID     string     `gorm:"size:64;not null;uniqueIndex" json:"payment_id"`
	OrderID       uint       `gorm:"not null;index" json:"order_id"`
	UserID        uint       `gorm:"index" json:"user_id"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Currency      string     `gorm:"size:3;not null;default:VND" json:"currency"`
	PaymentMethod string     `gorm:"size:20;not null;index" json:"payment_method"`
	Status        string     `gorm:"size:20;not null;index" json:"status"` // PENDING, COMPLETED, FAILED, REFUNDED
	PaymentDate   *time.Time `json:"payment_date"`
	TransactionID *string    `gorm:"size:100;index" json:"transaction_id"`
	PaymentNote   string     `gorm:"size:255" json:"payment_note"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// TxnID returns the provider transaction id or "".
func (p *Payment) TxnID() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}
