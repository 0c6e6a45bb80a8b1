package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/metrics"
	"paygate/internal/models"
	"paygate/internal/repository"
	"paygate/pkg/logger"
	"paygate/pkg/payment"
)

// RefundCommand identifies the payment by provider transaction id or by
// correlation key. A zero Amount refunds the full payment.
type RefundCommand struct {
	TransactionID string
	PaymentID     string
	Amount        int64
	Reason        string
	RequestedBy   string
	ClientIP      string
}

type RefundResult string

const (
	RefundResultRefunded        RefundResult = "REFUNDED"
	RefundResultAlreadyRefunded RefundResult = "ALREADY_REFUNDED"
)

type RefundOutcome struct {
	Result  RefundResult
	Refund  *models.Refund
	Payment *models.Payment
}

type RefundService struct {
	payments *repository.PaymentRepository
	refunds  *repository.RefundRepository
	recon    *ReconciliationService
	gateways map[string]payment.Gateway
	newID    func() string
	metrics  *metrics.PaymentMetrics
}

func NewRefundService(
	payments *repository.PaymentRepository,
	refunds *repository.RefundRepository,
	recon *ReconciliationService,
	gateways []payment.Gateway,
	newID func() string,
	m *metrics.PaymentMetrics,
) *RefundService {
	reg := make(map[string]payment.Gateway, len(gateways))
	for _, g := range gateways {
		reg[g.Method()] = g
	}
	return &RefundService{
		payments: payments,
		refunds:  refunds,
		recon:    recon,
		gateways: reg,
		newID:    newID,
		metrics:  m,
	}
}

// Refund returns a completed payment's money through its gateway and marks
// the payment REFUNDED. Repeating a finished refund is a no-op.
func (s *RefundService) Refund(ctx context.Context, cmd RefundCommand) (*RefundOutcome, error) {
	p, err := s.locate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	log := logger.SW("payment_id", p.PaymentID, "method", p.PaymentMethod, "requested_by", cmd.RequestedBy)

	switch p.Status {
	case domain.PaymentStatusRefunded:
		ref, err := s.refunds.GetByPaymentID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		log.Infow("payment_refund_duplicate")
		s.metrics.RecordRefund(p.PaymentMethod, string(RefundResultAlreadyRefunded))
		return &RefundOutcome{Result: RefundResultAlreadyRefunded, Refund: ref, Payment: p}, nil
	case domain.PaymentStatusCompleted:
	default:
		return nil, domain.ErrRefundNotAllowed(p.Status)
	}

	gw, ok := s.gateways[p.PaymentMethod]
	if !ok {
		return nil, domain.ErrUnsupportedMethod(p.PaymentMethod)
	}
	amount := cmd.Amount
	if amount == 0 {
		amount = p.Amount
	}
	if amount < 0 || amount > p.Amount {
		return nil, domain.ErrRefundAmount(p.Amount)
	}
	if amount < p.Amount && !gw.SupportsPartialRefund() {
		return nil, domain.ErrPartialRefundUnsupported(p.PaymentMethod)
	}
	if p.TxnID() == "" {
		return nil, domain.ErrInvalidRequest("payment has no provider transaction id to refund")
	}

	ref, claim, err := s.refunds.Claim(ctx, &models.Refund{
		PaymentID:       p.ID,
		PaymentRef:      p.PaymentID,
		Amount:          amount,
		RequestID:       s.newID(),
		RefundReference: s.newID(),
		Reason:          strings.TrimSpace(cmd.Reason),
		RequestedBy:     cmd.RequestedBy,
	})
	if err != nil {
		return nil, err
	}
	switch claim {
	case repository.ClaimInProgress:
		return nil, domain.ErrRefundInProgress()
	case repository.ClaimSucceeded:
		log.Infow("payment_refund_resume", "refund_id", ref.ID)
	default:
		if ref, err = s.callProvider(ctx, gw, p, ref, cmd); err != nil {
			s.metrics.RecordRefund(p.PaymentMethod, string(domain.KindOf(err)))
			return nil, err
		}
	}

	outcome, current, err := s.recon.ApplyTransition(ctx, p, domain.PaymentStatusRefunded, "")
	if err != nil {
		return nil, err
	}
	result := RefundResultRefunded
	switch outcome {
	case domain.TransitionAlreadyInTarget:
		result = RefundResultAlreadyRefunded
	case domain.TransitionConflict:
		return nil, domain.ErrTransitionConflict(current.Status, domain.PaymentStatusRefunded)
	}
	log.Infow("payment_refunded", "amount", ref.Amount, "result", result, "provider_refund_id", ref.ProviderRefundID)
	s.metrics.RecordRefund(p.PaymentMethod, string(result))
	return &RefundOutcome{Result: result, Refund: ref, Payment: current}, nil
}

func (s *RefundService) locate(ctx context.Context, cmd RefundCommand) (*models.Payment, error) {
	txn := strings.TrimSpace(cmd.TransactionID)
	key := strings.TrimSpace(cmd.PaymentID)
	var (
		p   *models.Payment
		err error
	)
	switch {
	case txn != "":
		p, err = s.payments.FindByTransactionID(ctx, txn)
		key = txn
	case key != "":
		p, err = s.payments.FindByCorrelationKey(ctx, key)
	default:
		return nil, domain.ErrInvalidRequest("transactionId or paymentId is required")
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound(key)
	}
	return p, nil
}

// callProvider performs the refund call for a claimed record. A response that
// cannot be verified leaves the record PROCESSING for manual review.
func (s *RefundService) callProvider(ctx context.Context, gw payment.Gateway, p *models.Payment, ref *models.Refund, cmd RefundCommand) (*models.Refund, error) {
	start := time.Now()
	res, err := gw.Refund(ctx, payment.RefundRequest{
		CorrelationKey:        p.PaymentID,
		ProviderTransactionID: p.TxnID(),
		Amount:                ref.Amount,
		PaymentAmount:         p.Amount,
		TransactionDate:       p.CreatedAt,
		RequestID:             ref.RequestID,
		RefundReference:       ref.RefundReference,
		Reason:                ref.Reason,
		RequestedBy:           ref.RequestedBy,
		ClientIP:              cmd.ClientIP,
	})
	s.metrics.ObserveGateway(p.PaymentMethod, "refund", start, err)

	bg := context.WithoutCancel(ctx)
	log := logger.SW("payment_id", p.PaymentID, "refund_id", ref.ID, "request_id", ref.RequestID)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidResponseSignature) {
			log.Errorw("payment_refund_unverified", "error", err)
			s.recon.writeAudit(bg, domain.AuditRefundUnverified, p.PaymentID, map[string]interface{}{
				"provider":   p.PaymentMethod,
				"refund_id":  ref.ID,
				"request_id": ref.RequestID,
				"amount":     ref.Amount,
			})
			return nil, mapGatewayError(p.PaymentMethod, err)
		}

		code := "ERROR"
		var rejected *payment.RejectedError
		if errors.As(err, &rejected) {
			code = rejected.Code
		}
		var transient *payment.TransientError
		if errors.As(err, &transient) {
			code = "TRANSIENT"
		}
		if markErr := s.refunds.MarkFailed(bg, ref.ID, code, err.Error()); markErr != nil {
			log.Errorw("payment_refund_mark_failed_error", "error", markErr)
		}
		log.Warnw("payment_refund_failed", "code", code, "error", err)
		return nil, mapGatewayError(p.PaymentMethod, err)
	}

	if err := s.refunds.MarkSucceeded(bg, ref.ID, res.ProviderRefundID, res.ResultCode, res.Message); err != nil {
		return nil, err
	}
	ref.Status = domain.RefundStatusSucceeded
	ref.ProviderRefundID = res.ProviderRefundID
	ref.ResultCode = res.ResultCode
	ref.Message = res.Message
	return ref, nil
}
