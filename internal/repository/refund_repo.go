package repository

import (
	"context"
	"errors"

	"paygate/internal/domain"
	"paygate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimOutcome says what Claim found for a payment's refund record.
type ClaimOutcome string

const (
	ClaimCreated    ClaimOutcome = "CREATED"
	ClaimReclaimed  ClaimOutcome = "RECLAIMED"
	ClaimInProgress ClaimOutcome = "IN_PROGRESS"
	ClaimSucceeded  ClaimOutcome = "SUCCEEDED"
)

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Claim takes ownership of the refund for ref.PaymentID. Only CREATED and
// RECLAIMED give the caller the right to call the provider; the returned
// record is the stored one in every case.
func (r *RefundRepository) Claim(ctx context.Context, ref *models.Refund) (*models.Refund, ClaimOutcome, error) {
	ref.Status = domain.RefundStatusProcessing
	ref.Attempts = 1
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ref)
	if res.Error != nil {
		return nil, "", res.Error
	}
	if res.RowsAffected == 1 {
		return ref, ClaimCreated, nil
	}

	existing, err := r.GetByPaymentID(ctx, ref.PaymentID)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		return nil, "", errors.New("repository: refund claim lost its record")
	}

	switch existing.Status {
	case domain.RefundStatusSucceeded:
		return existing, ClaimSucceeded, nil
	case domain.RefundStatusProcessing:
		return existing, ClaimInProgress, nil
	}

	// FAILED: a retry of the same amount reuses the provider request ids so
	// the provider can dedupe it. A different amount is a new provider request.
	fields := map[string]interface{}{
		"status":       domain.RefundStatusProcessing,
		"amount":       ref.Amount,
		"reason":       ref.Reason,
		"requested_by": ref.RequestedBy,
		"attempts":     gorm.Expr("attempts + 1"),
	}
	if ref.Amount != existing.Amount {
		fields["request_id"] = ref.RequestID
		fields["refund_reference"] = ref.RefundReference
	}
	res = r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ? AND amount = ?", existing.ID, domain.RefundStatusFailed, existing.Amount).
		Updates(fields)
	if res.Error != nil {
		return nil, "", res.Error
	}
	current, err := r.GetByPaymentID(ctx, ref.PaymentID)
	if err != nil {
		return nil, "", err
	}
	if res.RowsAffected == 1 {
		return current, ClaimReclaimed, nil
	}
	if current.Status == domain.RefundStatusSucceeded {
		return current, ClaimSucceeded, nil
	}
	return current, ClaimInProgress, nil
}

func (r *RefundRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.Refund, error) {
	var ref models.Refund
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *RefundRepository) MarkSucceeded(ctx context.Context, id uint, providerRefundID, resultCode, message string) error {
	return r.finish(ctx, id, domain.RefundStatusSucceeded, map[string]interface{}{
		"provider_refund_id": providerRefundID,
		"result_code":        resultCode,
		"message":            message,
	})
}

func (r *RefundRepository) MarkFailed(ctx context.Context, id uint, resultCode, message string) error {
	return r.finish(ctx, id, domain.RefundStatusFailed, map[string]interface{}{
		"result_code": resultCode,
		"message":     truncate(message, 255),
	})
}

func (r *RefundRepository) finish(ctx context.Context, id uint, status string, fields map[string]interface{}) error {
	fields["status"] = status
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, domain.RefundStatusProcessing).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("repository: refund is not processing")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
