package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/metrics"
	"paygate/internal/models"
	"paygate/internal/repository"
	"paygate/pkg/logger"
	"paygate/pkg/payment"
)

type CreatePaymentRequest struct {
	OrderID       uint
	Amount        int64
	PaymentMethod string
	Description   string
	BankCode      string
	ClientIP      string
}

type CreatePaymentResult struct {
	Payment     *models.Payment
	RedirectURL string
	QRPayload   string
}

// PaymentService creates payment attempts and answers status lookups.
type PaymentService struct {
	payments *repository.PaymentRepository
	orders   OrderService
	gateways map[string]payment.Gateway
	newKey   func() string
	metrics  *metrics.PaymentMetrics
	now      func() time.Time
}

func NewPaymentService(
	payments *repository.PaymentRepository,
	orderSvc OrderService,
	gateways []payment.Gateway,
	newKey func() string,
	m *metrics.PaymentMetrics,
) *PaymentService {
	reg := make(map[string]payment.Gateway, len(gateways))
	for _, g := range gateways {
		reg[g.Method()] = g
	}
	return &PaymentService{
		payments: payments,
		orders:   orderSvc,
		gateways: reg,
		newKey:   newKey,
		metrics:  m,
		now:      time.Now,
	}
}

// Gateway returns the adapter registered for method.
func (s *PaymentService) Gateway(method string) (payment.Gateway, bool) {
	g, ok := s.gateways[strings.ToUpper(method)]
	return g, ok
}

// Create validates the request against the order, stores a PENDING payment
// and asks the gateway for a checkout. A gateway failure leaves the row PENDING.
func (s *PaymentService) Create(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if req.OrderID == 0 {
		return nil, domain.ErrInvalidRequest("orderId is required")
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount()
	}
	if !domain.ValidMethod(method) {
		return nil, domain.ErrUnsupportedMethod(req.PaymentMethod)
	}
	gw, online := s.gateways[method]
	if method != domain.MethodCOD && !online {
		return nil, domain.ErrUnsupportedMethod(req.PaymentMethod)
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, domain.ErrOrderServiceUnavailable(err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound(req.OrderID)
	}
	if order.TotalAmount != req.Amount {
		return nil, domain.ErrAmountMismatch(order.TotalAmount, req.Amount)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Thanh toan don hang " + strconv.FormatUint(uint64(req.OrderID), 10)
	}
	p := &models.Payment{
		PaymentID:     s.newKey(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        req.Amount,
		Currency:      "VND",
		PaymentMethod: method,
		PaymentNote:   truncateNote(description),
		CreatedAt:     s.now(),
	}
	if err := s.payments.CreatePending(ctx, p); err != nil {
		return nil, err
	}
	s.metrics.RecordCreated(method)
	log := logger.SW("payment_id", p.PaymentID, "order_id", p.OrderID, "method", method, "amount", p.Amount)

	result := &CreatePaymentResult{Payment: p}
	if !online {
		log.Infow("payment_created")
		return result, nil
	}

	start := time.Now()
	checkout, err := gw.BuildRequest(ctx, payment.Intent{
		CorrelationKey: p.PaymentID,
		Amount:         p.Amount,
		Description:    description,
		ClientIP:       req.ClientIP,
		BankCode:       req.BankCode,
		CreatedAt:      p.CreatedAt,
	})
	s.metrics.ObserveGateway(method, "create", start, err)
	if err != nil {
		log.Warnw("payment_checkout_failed", "error", err)
		return nil, mapGatewayError(method, err)
	}
	result.RedirectURL = checkout.RedirectURL
	result.QRPayload = checkout.QRPayload
	log.Infow("payment_created", "provider_request_id", checkout.ProviderRequestID)
	return result, nil
}

// Status looks a payment up by provider transaction id, falling back to the
// correlation key while the provider has not reported one yet.
func (s *PaymentService) Status(ctx context.Context, ref string) (*models.Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.ErrInvalidRequest("transaction id is required")
	}
	p, err := s.payments.FindByTransactionID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if p, err = s.payments.FindByCorrelationKey(ctx, ref); err != nil {
			return nil, err
		}
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound(ref)
	}
	return p, nil
}

// Snapshot returns the payment for key or nil, nil.
func (s *PaymentService) Snapshot(ctx context.Context, key string) (*models.Payment, error) {
	return s.payments.FindByCorrelationKey(ctx, key)
}

func mapGatewayError(provider string, err error) error {
	var transient *payment.TransientError
	if errors.As(err, &transient) {
		return domain.ErrGatewayUnavailable(provider, err)
	}
	var rejected *payment.RejectedError
	if errors.As(err, &rejected) {
		return domain.ErrGatewayRejected(provider, rejected.Code, rejected.Message)
	}
	if errors.Is(err, payment.ErrInvalidResponseSignature) {
		return domain.ErrIntegrity(provider+" response failed signature verification", err)
	}
	return domain.ErrInvalidRequest(err.Error())
}

func truncateNote(s string) string {
	r := []rune(s)
	if len(r) <= 255 {
		return s
	}
	return string(r[:255])
}
