package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"paygate/internal/database"
	"paygate/internal/metrics"
	"paygate/internal/models"
	"paygate/internal/orders"
	"paygate/internal/repository"
	"paygate/pkg/payment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	method   string
	partial  bool
	buildErr error

	mu         sync.Mutex
	refundErr  error
	refundReqs []payment.RefundRequest
}

func (g *fakeGateway) Method() string { return g.method }

func (g *fakeGateway) SupportsPartialRefund() bool { return g.partial }

func (g *fakeGateway) BuildRequest(_ context.Context, in payment.Intent) (*payment.Checkout, error) {
	if g.buildErr != nil {
		return nil, g.buildErr
	}
	return &payment.Checkout{
		CorrelationKey: in.CorrelationKey,
		RedirectURL:    "https://gateway.test/pay?ref=" + in.CorrelationKey,
	}, nil
}

func (g *fakeGateway) ParseCallback(payment.CallbackInput) (*payment.CallbackResult, error) {
	return nil, payment.ErrMalformedCallback
}

func (g *fakeGateway) VerifySignature(map[string]string) bool { return true }

func (g *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundReqs = append(g.refundReqs, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &payment.RefundResult{RequestID: req.RequestID, ProviderRefundID: "RF-" + req.RequestID, ResultCode: "00"}, nil
}

func (g *fakeGateway) Acknowledge(payment.Ack) (int, interface{}) { return http.StatusNoContent, nil }

func (g *fakeGateway) refundCalls() []payment.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.RefundRequest(nil), g.refundReqs...)
}

type orderUpdate struct {
	OrderID       uint
	Status        string
	PaymentID     string
	TransactionID string
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[uint]*orders.Order
	getErr    error
	updateErr error
	updates   []orderUpdate
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[uint]*orders.Order{
		100: {ID: 100, UserID: 7, TotalAmount: 50000, Status: "PENDING_PAYMENT"},
	}}
}

func (f *fakeOrders) GetOrder(_ context.Context, id uint) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.orders[id], nil
}

func (f *fakeOrders) UpdatePaymentStatus(_ context.Context, orderID uint, status, paymentID, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, orderUpdate{orderID, status, paymentID, transactionID})
	return f.updateErr
}

func (f *fakeOrders) recorded() []orderUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orderUpdate(nil), f.updates...)
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) PaymentStatusChanged(_ context.Context, p *models.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p.PaymentID+":"+p.Status)
	return nil
}

func (l *recordingListener) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type testEnv struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	refunds  *repository.RefundRepository
	audits   *repository.AuditLogRepository
	orders   *fakeOrders
	listener *recordingListener
	vnpay    *fakeGateway
	momo     *fakeGateway
	metrics  *metrics.PaymentMetrics
	recon    *ReconciliationService
	pay      *PaymentService
	refund   *RefundService
}

func newTestEnv(t *testing.T, gateways ...payment.Gateway) *testEnv {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)

	env := &testEnv{
		db:       db,
		payments: repository.NewPaymentRepository(db),
		refunds:  repository.NewRefundRepository(db),
		audits:   repository.NewAuditLogRepository(db),
		orders:   newFakeOrders(),
		listener: &recordingListener{},
		vnpay:    &fakeGateway{method: payment.MethodVNPay, partial: true},
		momo:     &fakeGateway{method: payment.MethodMoMo, partial: true},
		metrics:  metrics.NewPaymentMetrics(prometheus.NewRegistry()),
	}
	if len(gateways) == 0 {
		gateways = []payment.Gateway{env.vnpay, env.momo}
	}
	env.recon = NewReconciliationService(env.payments, env.audits, env.orders, env.metrics, env.listener)
	env.pay = NewPaymentService(env.payments, env.orders, gateways, sequentialKeys("KEY"), env.metrics)
	env.refund = NewRefundService(env.payments, env.refunds, env.recon, gateways, sequentialKeys("RQ"), env.metrics)
	return env
}

func sequentialKeys(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}

func (e *testEnv) createPayment(t *testing.T, method string) *models.Payment {
	t.Helper()
	res, err := e.pay.Create(context.Background(), CreatePaymentRequest{OrderID: 100, Amount: 50000, PaymentMethod: method})
	require.NoError(t, err)
	return res.Payment
}

func successCallback(p *models.Payment, txn string) *payment.CallbackResult {
	return &payment.CallbackResult{
		Provider:              p.PaymentMethod,
		Channel:               payment.ChannelIPN,
		CorrelationKey:        p.PaymentID,
		ProviderTransactionID: txn,
		Amount:                p.Amount,
		ResultCode:            "00",
		Succeeded:             true,
		SignatureValid:        true,
	}
}

func (e *testEnv) completePayment(t *testing.T, method, txn string) *models.Payment {
	t.Helper()
	p := e.createPayment(t, method)
	out, err := e.recon.Reconcile(context.Background(), successCallback(p, txn))
	require.NoError(t, err)
	require.Equal(t, ResultApplied, out.Result)
	return out.Payment
}

func (e *testEnv) reload(t *testing.T, p *models.Payment) *models.Payment {
	t.Helper()
	fresh, err := e.payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	return fresh
}

func (e *testEnv) auditActions(t *testing.T, ref string) []string {
	t.Helper()
	logs, err := e.audits.ListByResource(context.Background(), "payment", ref)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&n).Error)
	return n
}

