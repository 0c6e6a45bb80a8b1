package models

import (
	"time"

	"gorm.io/datatypes"
)

type Notification struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	Type       string         `gorm:"size:50;not null;index" json:"type"`
	Title      string         `gorm:"size:255" json:"title"`
	Body       string         `gorm:"type:text" json:"body"`
	PaymentRef string         `gorm:"size:64;index" json:"payment_ref"`
	Data       datatypes.JSON `json:"data"`
	ReadAt     *time.Time     `json:"read_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
