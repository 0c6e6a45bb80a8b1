package service

import (
	"context"
	"encoding/json"
	"fmt"

	"paygate/internal/domain"
	"paygate/internal/metrics"
	"paygate/internal/models"
	"paygate/internal/orders"
	"paygate/internal/repository"
	"paygate/pkg/logger"
	"paygate/pkg/payment"

	"gorm.io/datatypes"
)

// OrderService is the order collaborator.
type OrderService interface {
	GetOrder(ctx context.Context, orderID uint) (*orders.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID uint, status, paymentID, transactionID string) error
}

// StatusListener is told about every applied payment transition.
type StatusListener interface {
	PaymentStatusChanged(ctx context.Context, p *models.Payment) error
}

type ReconcileResult string

const (
	ResultApplied          ReconcileResult = "APPLIED"
	ResultAlreadyApplied   ReconcileResult = "ALREADY_APPLIED"
	ResultNotFound         ReconcileResult = "NOT_FOUND"
	ResultInvalidSignature ReconcileResult = "INVALID_SIGNATURE"
	ResultAmountMismatch   ReconcileResult = "AMOUNT_MISMATCH"
	ResultConflict         ReconcileResult = "CONFLICT"
)

// PaymentOutcome is what reconciling one callback did. Payment is nil for
// NOT_FOUND and otherwise the stored state after reconciliation.
type PaymentOutcome struct {
	Result  ReconcileResult
	Payment *models.Payment
}

// Ack maps the outcome onto the provider-neutral webhook answer.
func (o *PaymentOutcome) Ack() payment.Ack {
	switch o.Result {
	case ResultApplied:
		return payment.AckConfirmed
	case ResultAlreadyApplied:
		return payment.AckAlreadyConfirmed
	case ResultNotFound:
		return payment.AckNotFound
	case ResultInvalidSignature:
		return payment.AckInvalidSignature
	case ResultAmountMismatch:
		return payment.AckInvalidAmount
	case ResultConflict:
		return payment.AckConflict
	}
	return payment.AckRetry
}

// Succeeded reports whether the payment ended up paid.
func (o *PaymentOutcome) Succeeded() bool {
	if o.Payment == nil {
		return false
	}
	return domain.SatisfiesTarget(o.Payment.Status, domain.PaymentStatusCompleted)
}

type ReconciliationService struct {
	payments  *repository.PaymentRepository
	audits    *repository.AuditLogRepository
	orders    OrderService
	metrics   *metrics.PaymentMetrics
	listeners []StatusListener
}

func NewReconciliationService(
	payments *repository.PaymentRepository,
	audits *repository.AuditLogRepository,
	orderSvc OrderService,
	m *metrics.PaymentMetrics,
	listeners ...StatusListener,
) *ReconciliationService {
	return &ReconciliationService{
		payments:  payments,
		audits:    audits,
		orders:    orderSvc,
		metrics:   m,
		listeners: listeners,
	}
}

// Reconcile applies a parsed callback to the ledger. Any number of deliveries
// of the same callback, in any order, leave one transition and one round of
// side effects. The error return is reserved for infrastructure failures.
func (s *ReconciliationService) Reconcile(ctx context.Context, cb *payment.CallbackResult) (*PaymentOutcome, error) {
	out, err := s.reconcile(ctx, cb)
	if err != nil {
		s.metrics.RecordCallback(cb.Provider, cb.Channel, "ERROR")
		logger.SW("provider", cb.Provider, "channel", cb.Channel, "payment_id", cb.CorrelationKey, "error", err).
			Errorw("payment_reconcile_failed")
		return nil, err
	}
	s.metrics.RecordCallback(cb.Provider, cb.Channel, string(out.Result))
	return out, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, cb *payment.CallbackResult) (*PaymentOutcome, error) {
	log := logger.SW("provider", cb.Provider, "channel", cb.Channel, "payment_id", cb.CorrelationKey)

	p, err := s.payments.FindByCorrelationKey(ctx, cb.CorrelationKey)
	if err != nil {
		return nil, err
	}
	if p == nil || p.PaymentMethod != cb.Provider {
		log.Warnw("payment_callback_not_found")
		s.audit(ctx, domain.AuditCallbackNotFound, cb, nil)
		return &PaymentOutcome{Result: ResultNotFound}, nil
	}

	if !cb.SignatureValid {
		log.Warnw("payment_callback_invalid_signature")
		s.audit(ctx, domain.AuditCallbackInvalidSignature, cb, nil)
		return &PaymentOutcome{Result: ResultInvalidSignature, Payment: p}, nil
	}

	if cb.Amount != p.Amount {
		log.Warnw("payment_callback_amount_mismatch", "expected", p.Amount, "got", cb.Amount)
		s.audit(ctx, domain.AuditCallbackAmountMismatch, cb, map[string]interface{}{"expected_amount": p.Amount})
		return &PaymentOutcome{Result: ResultAmountMismatch, Payment: p}, nil
	}

	target := domain.PaymentStatusFailed
	if cb.Succeeded {
		target = domain.PaymentStatusCompleted
	}
	outcome, current, err := s.ApplyTransition(ctx, p, target, cb.ProviderTransactionID)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case domain.TransitionApplied:
		log.Infow("payment_callback_applied", "status", current.Status, "result_code", cb.ResultCode)
		return &PaymentOutcome{Result: ResultApplied, Payment: current}, nil
	case domain.TransitionAlreadyInTarget:
		log.Infow("payment_callback_duplicate", "status", current.Status)
		return &PaymentOutcome{Result: ResultAlreadyApplied, Payment: current}, nil
	}
	s.audit(ctx, domain.AuditTransitionConflict, cb, map[string]interface{}{
		"current_status": current.Status,
		"target_status":  target,
	})
	return &PaymentOutcome{Result: ResultConflict, Payment: current}, nil
}

// ApplyTransition moves p to target and, only when this call performed the
// transition, runs the side effects once. Conflicts are logged here.
func (s *ReconciliationService) ApplyTransition(ctx context.Context, p *models.Payment, target, transactionID string) (domain.TransitionOutcome, *models.Payment, error) {
	outcome, current, err := s.payments.Transition(ctx, p.ID, target, transactionID)
	if err != nil {
		return "", nil, err
	}
	switch outcome {
	case domain.TransitionApplied:
		s.metrics.RecordTransition(current.PaymentMethod, current.Status)
		s.fireEffects(context.WithoutCancel(ctx), current)
	case domain.TransitionConflict:
		logger.SW("payment_id", current.PaymentID, "current_status", current.Status, "target_status", target).
			Warnw("payment_transition_conflict")
	}
	return outcome, current, nil
}

// fireEffects never retries; a failed effect is logged and dropped.
func (s *ReconciliationService) fireEffects(ctx context.Context, p *models.Payment) {
	log := logger.SW("payment_id", p.PaymentID, "order_id", p.OrderID, "status", p.Status)

	if s.orders != nil {
		if status := orderPaymentStatus(p.Status); status != "" {
			if err := s.orders.UpdatePaymentStatus(ctx, p.OrderID, status, p.PaymentID, p.TxnID()); err != nil {
				log.Errorw("order_payment_status_update_failed", "error", err)
			}
		}
	}
	for _, l := range s.listeners {
		if err := l.PaymentStatusChanged(ctx, p); err != nil {
			log.Errorw("payment_listener_failed", "listener", fmt.Sprintf("%T", l), "error", err)
		}
	}
}

func orderPaymentStatus(status string) string {
	switch status {
	case domain.PaymentStatusCompleted:
		return domain.OrderPaymentPaid
	case domain.PaymentStatusFailed:
		return domain.OrderPaymentFailed
	case domain.PaymentStatusRefunded:
		return domain.OrderPaymentRefunded
	}
	return ""
}

// audit stores the normalized callback facts; raw params stay out of the table.
func (s *ReconciliationService) audit(ctx context.Context, action string, cb *payment.CallbackResult, extra map[string]interface{}) {
	if s.audits == nil {
		return
	}
	meta := map[string]interface{}{
		"provider":       cb.Provider,
		"channel":        cb.Channel,
		"transaction_id": cb.ProviderTransactionID,
		"amount":         cb.Amount,
		"result_code":    cb.ResultCode,
		"succeeded":      cb.Succeeded,
	}
	for k, v := range extra {
		meta[k] = v
	}
	s.writeAudit(ctx, action, cb.CorrelationKey, meta)
}

func (s *ReconciliationService) writeAudit(ctx context.Context, action, paymentRef string, meta map[string]interface{}) {
	b, err := json.Marshal(meta)
	if err != nil {
		return
	}
	info := requestInfoFrom(ctx)
	if err := s.audits.Create(context.WithoutCancel(ctx), &models.AuditLog{
		Action:     action,
		Resource:   "payment",
		ResourceID: paymentRef,
		IP:         info.IP,
		UserAgent:  info.UserAgent,
		Metadata:   datatypes.JSON(b),
	}); err != nil {
		logger.SW("action", action, "payment_id", paymentRef, "error", err).Errorw("audit_log_write_failed")
	}
}
