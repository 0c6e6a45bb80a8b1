package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/models"
	"paygate/internal/repository"
	"paygate/pkg/logger"

	"gorm.io/datatypes"
)

type pusher interface {
	SendToTopic(ctx context.Context, topic, notifType, title, body string, data map[string]interface{}) error
}

const defaultPushTimeout = 5 * time.Second

// NotificationService stores a notification for the payment owner and pushes it.
type NotificationService struct {
	repo        *repository.NotificationRepository
	push        pusher
	pushTimeout time.Duration
}

// NewNotificationService builds the service. Each push is bounded by
// pushTimeout (5s when zero) because callers may hand it an uncancellable ctx.
func NewNotificationService(repo *repository.NotificationRepository, fcm *FCMService, pushTimeout time.Duration) *NotificationService {
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	s := &NotificationService{repo: repo, pushTimeout: pushTimeout}
	if fcm != nil {
		s.push = fcm
	}
	return s
}

func (s *NotificationService) Notify(ctx context.Context, userID uint, notifType, title, body, paymentRef string, data map[string]interface{}) error {
	var raw datatypes.JSON
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID:     userID,
		Type:       notifType,
		Title:      title,
		Body:       body,
		PaymentRef: paymentRef,
		Data:       raw,
	})
	if err != nil {
		return err
	}
	if s.push != nil {
		pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
		defer cancel()
		// Push failures are already logged by the sender; the stored row is the record.
		_ = s.push.SendToTopic(pushCtx, UserTopic(userID), notifType, title, body, data)
	}
	return nil
}

// PaymentStatusChanged notifies the payer about a settled payment.
func (s *NotificationService) PaymentStatusChanged(ctx context.Context, p *models.Payment) error {
	switch p.Status {
	case domain.PaymentStatusCompleted:
		return s.NotifyPaymentConfirmed(ctx, p)
	case domain.PaymentStatusFailed:
		return s.NotifyPaymentFailed(ctx, p)
	case domain.PaymentStatusRefunded:
		return s.NotifyPaymentRefunded(ctx, p)
	}
	logger.SW("payment_id", p.PaymentID, "status", p.Status).Debugw("notification_skipped")
	return nil
}

func (s *NotificationService) NotifyPaymentConfirmed(ctx context.Context, p *models.Payment) error {
	return s.Notify(ctx, p.UserID, domain.NotificationPaymentConfirmed, "Payment confirmed",
		fmt.Sprintf("Your payment for order #%d was successful.", p.OrderID), p.PaymentID, paymentData(p))
}

func (s *NotificationService) NotifyPaymentFailed(ctx context.Context, p *models.Payment) error {
	return s.Notify(ctx, p.UserID, domain.NotificationPaymentFailed, "Payment failed",
		fmt.Sprintf("Your payment for order #%d did not go through.", p.OrderID), p.PaymentID, paymentData(p))
}

func (s *NotificationService) NotifyPaymentRefunded(ctx context.Context, p *models.Payment) error {
	return s.Notify(ctx, p.UserID, domain.NotificationPaymentRefunded, "Payment refunded",
		fmt.Sprintf("Your payment for order #%d has been refunded.", p.OrderID), p.PaymentID, paymentData(p))
}

func paymentData(p *models.Payment) map[string]interface{} {
	return map[string]interface{}{
		"payment_id":     p.PaymentID,
		"order_id":       p.OrderID,
		"amount":         p.Amount,
		"payment_method": p.PaymentMethod,
		"status":         p.Status,
	}
}
