package repository

import (
	"context"

	"paygate/internal/models"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NotificationRepository) ListByPaymentRef(ctx context.Context, ref string) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).Where("payment_ref = ?", ref).Order("id ASC").Find(&list).Error
	return list, err
}
