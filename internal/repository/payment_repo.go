package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository is the payment ledger. Transition is the only way a
// stored payment changes after creation.
type PaymentRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db, now: time.Now}
}

// CreatePending inserts p as a new PENDING attempt.
func (r *PaymentRepository) CreatePending(ctx context.Context, p *models.Payment) error {
	if p.Amount <= 0 {
		return fmt.Errorf("repository: payment amount must be positive, got %d", p.Amount)
	}
	if p.PaymentID == "" {
		return errors.New("repository: payment correlation key is required")
	}
	p.Status = domain.PaymentStatusPending
	p.TransactionID = nil
	p.PaymentDate = nil
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByCorrelationKey returns nil, nil when no payment carries key.
func (r *PaymentRepository) FindByCorrelationKey(ctx context.Context, key string) (*models.Payment, error) {
	if key == "" {
		return nil, nil
	}
	return r.first(ctx, "payment_id = ?", key)
}

// FindByTransactionID returns the most recent payment with the provider
// transaction id, or nil, nil.
func (r *PaymentRepository) FindByTransactionID(ctx context.Context, txnID string) (*models.Payment, error) {
	if txnID == "" {
		return nil, nil
	}
	return r.first(ctx, "transaction_id = ?", txnID)
}

func (r *PaymentRepository) ListByOrderID(ctx context.Context, orderID uint) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id DESC").Find(&list).Error
	return list, err
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where(query, args...).Order("id DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Transition moves payment id to target with a compare-and-swap on its
// current status. Concurrent callers racing the same row get exactly one
// APPLIED; the rest see ALREADY_IN_TARGET or CONFLICT. A late COMPLETED
// request against a REFUNDED payment reports ALREADY_IN_TARGET rather than
// CONFLICT, since the refund implies the earlier completion; the row is left
// unchanged either way. A non-empty transactionID is stored only if none is
// recorded yet.
func (r *PaymentRepository) Transition(ctx context.Context, id uint, target, transactionID string) (domain.TransitionOutcome, *models.Payment, error) {
	from, ok := domain.TransitionSource(target)
	if !ok {
		return "", nil, fmt.Errorf("repository: %q is not a transition target", target)
	}

	now := r.now()
	updates := map[string]interface{}{
		"status":     target,
		"updated_at": now,
	}
	if transactionID != "" {
		updates["transaction_id"] = gorm.Expr("COALESCE(NULLIF(transaction_id, ''), ?)", transactionID)
	}
	if target == domain.PaymentStatusCompleted {
		updates["payment_date"] = now
	}

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return "", nil, res.Error
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if current == nil {
		return "", nil, fmt.Errorf("repository: payment %d does not exist", id)
	}

	switch {
	case res.RowsAffected == 1:
		return domain.TransitionApplied, current, nil
	case domain.SatisfiesTarget(current.Status, target):
		return domain.TransitionAlreadyInTarget, current, nil
	default:
		return domain.TransitionConflict, current, nil
	}
}
