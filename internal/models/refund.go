package models

import "time"

// Refund is the idempotency record of the single refund allowed per payment.
// RequestID and RefundReference are reused when a failed attempt is retried
// with the same amount.
type Refund struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PaymentID        uint      `gorm:"not null;uniqueIndex" json:"payment_id"`
	PaymentRef       string    `gorm:"size:64;not null;index" json:"payment_ref"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Status           string    `gorm:"size:20;not null;index" json:"status"` // PROCESSING, SUCCEEDED, FAILED
	RequestID        string    `gorm:"size:64;not null" json:"request_id"`
	RefundReference  string    `gorm:"size:64;not null" json:"refund_reference"`
	ProviderRefundID string    `gorm:"size:100" json:"provider_refund_id"`
	ResultCode       string    `gorm:"size:20" json:"result_code"`
	Message          string    `gorm:"size:255" json:"message"`
	Reason           string    `gorm:"size:255" json:"reason"`
	RequestedBy      string    `gorm:"size:100" json:"requested_by"`
	Attempts         int       `gorm:"not null;default:1" json:"attempts"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}
