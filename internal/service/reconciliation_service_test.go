package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/pkg/payment"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_SuccessThenDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPayment(t, payment.MethodVNPay)

	out, err := env.recon.Reconcile(ctx, successCallback(p, "14226112"))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, out.Result)
	assert.Equal(t, payment.AckConfirmed, out.Ack())
	assert.True(t, out.Succeeded())
	assert.Equal(t, domain.PaymentStatusCompleted, out.Payment.Status)
	assert.Equal(t, "14226112", out.Payment.TxnID())
	assert.NotNil(t, out.Payment.PaymentDate)

	dup, err := env.recon.Reconcile(ctx, successCallback(p, "14226112"))
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyApplied, dup.Result)
	assert.Equal(t, payment.AckAlreadyConfirmed, dup.Ack())

	assert.Equal(t, []orderUpdate{{100, domain.OrderPaymentPaid, p.PaymentID, "14226112"}}, env.orders.recorded())
	assert.Equal(t, []string{p.PaymentID + ":COMPLETED"}, env.listener.recorded())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TransitionsTotal.WithLabelValues("VNPAY", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.CallbacksTotal.WithLabelValues("VNPAY", "ipn", "ALREADY_APPLIED")))
}

func TestReconcile_FailureAppliedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPayment(t, payment.MethodVNPay)

	cb := successCallback(p, "")
	cb.Succeeded = false
	cb.ResultCode = "24"

	out, err := env.recon.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, out.Result)
	assert.Equal(t, domain.PaymentStatusFailed, out.Payment.Status)
	assert.False(t, out.Succeeded())

	again, err := env.recon.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyApplied, again.Result)

	assert.Equal(t, []orderUpdate{{100, domain.OrderPaymentFailed, p.PaymentID, ""}}, env.orders.recorded())
}

func TestReconcile_ConflictKeepsTerminalState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPayment(t, payment.MethodVNPay)

	failed := successCallback(p, "")
	failed.Succeeded = false
	_, err := env.recon.Reconcile(ctx, failed)
	require.NoError(t, err)

	out, err := env.recon.Reconcile(ctx, successCallback(p, "999"))
	require.NoError(t, err)
	assert.Equal(t, ResultConflict, out.Result)
	assert.Equal(t, payment.AckConflict, out.Ack())

	stored := env.reload(t, p)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	assert.Nil(t, stored.TransactionID)
	assert.Contains(t, env.auditActions(t, p.PaymentID), domain.AuditTransitionConflict)
	assert.Len(t, env.orders.recorded(), 1)
}

func TestReconcile_AmountMismatchLeavesLedger(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPayment(t, payment.MethodVNPay)

	for _, amount := range []int64{49999, -1} {
		cb := successCallback(p, "1")
		cb.Amount = amount
		out, err := env.recon.Reconcile(context.Background(), cb)
		require.NoError(t, err)
		assert.Equal(t, ResultAmountMismatch, out.Result)
		assert.Equal(t, payment.AckInvalidAmount, out.Ack())
	}

	assert.Equal(t, domain.PaymentStatusPending, env.reload(t, p).Status)
	assert.Empty(t, env.orders.recorded())
	assert.Equal(t, []string{domain.AuditCallbackAmountMismatch, domain.AuditCallbackAmountMismatch}, env.auditActions(t, p.PaymentID))
}

func TestReconcile_InvalidSignatureLeavesLedger(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPayment(t, payment.MethodVNPay)

	cb := successCallback(p, "1")
	cb.SignatureValid = false
	out, err := env.recon.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, ResultInvalidSignature, out.Result)
	assert.Equal(t, payment.AckInvalidSignature, out.Ack())
	assert.Equal(t, domain.PaymentStatusPending, env.reload(t, p).Status)
	assert.Equal(t, []string{domain.AuditCallbackInvalidSignature}, env.auditActions(t, p.PaymentID))
}

func TestReconcile_NotFound(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPayment(t, payment.MethodVNPay)

	out, err := env.recon.Reconcile(context.Background(), &payment.CallbackResult{
		Provider: payment.MethodVNPay, CorrelationKey: "UNKNOWN", Amount: 50000, Succeeded: true, SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultNotFound, out.Result)
	assert.Nil(t, out.Payment)
	assert.Equal(t, payment.AckNotFound, out.Ack())
	assert.Equal(t, []string{domain.AuditCallbackNotFound}, env.auditActions(t, "UNKNOWN"))

	// a MoMo callback for a VNPay payment does not match it
	cb := successCallback(p, "1")
	cb.Provider = payment.MethodMoMo
	out, err = env.recon.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, ResultNotFound, out.Result)
	assert.Equal(t, domain.PaymentStatusPending, env.reload(t, p).Status)
}

func TestReconcile_SideEffectFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	env.orders.updateErr = errors.New("order service down")
	p := env.createPayment(t, payment.MethodMoMo)

	out, err := env.recon.Reconcile(context.Background(), successCallback(p, "4088878653"))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, out.Result)
	assert.Equal(t, []string{p.PaymentID + ":COMPLETED"}, env.listener.recorded())

	// not retried on redelivery
	_, err = env.recon.Reconcile(context.Background(), successCallback(p, "4088878653"))
	require.NoError(t, err)
	assert.Len(t, env.orders.recorded(), 1)
}

func TestApplyTransition_EffectsOnlyWhenApplied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPayment(t, payment.MethodVNPay)

	outcome, current, err := env.recon.ApplyTransition(ctx, p, domain.PaymentStatusCompleted, "77")
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionApplied, outcome)
	assert.Equal(t, "77", current.TxnID())

	outcome, current, err = env.recon.ApplyTransition(ctx, p, domain.PaymentStatusCompleted, "88")
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionAlreadyInTarget, outcome)
	assert.Equal(t, "77", current.TxnID())

	outcome, _, err = env.recon.ApplyTransition(ctx, p, domain.PaymentStatusFailed, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionConflict, outcome)

	assert.Len(t, env.orders.recorded(), 1)
	assert.Len(t, env.listener.recorded(), 1)
}

func TestReconcile_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPayment(t, payment.MethodVNPay)

	const n = 12
	results := make([]ReconcileResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := env.recon.Reconcile(context.Background(), successCallback(p, "14226112"))
			if assert.NoError(t, err) {
				results[i] = out.Result
			}
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if r == ResultApplied {
			applied++
		} else {
			assert.Equal(t, ResultAlreadyApplied, r)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, env.orders.recorded(), 1)
	assert.Len(t, env.listener.recorded(), 1)
}

func TestReconcile_NotifiesPayer(t *testing.T) {
	env := newTestEnv(t)
	notifications := repository.NewNotificationRepository(env.db)
	env.recon.listeners = append(env.recon.listeners, NewNotificationService(notifications, nil, 0))
	p := env.createPayment(t, payment.MethodVNPay)

	for i := 0; i < 3; i++ {
		_, err := env.recon.Reconcile(context.Background(), successCallback(p, "1"))
		require.NoError(t, err)
	}

	list, err := notifications.ListByPaymentRef(context.Background(), p.PaymentID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationPaymentConfirmed, list[0].Type)
	assert.Equal(t, uint(7), list[0].UserID)
	assert.Contains(t, string(list[0].Data), p.PaymentID)
}

func TestReconcile_SignedVNPayReturnURL(t *testing.T) {
	const secret = "VNPAYSECRETKEY0123456789"
	gw, err := payment.NewVNPay(payment.VNPayConfig{TmnCode: "TESTTMN1", HashSecret: secret, Timeout: time.Second})
	require.NoError(t, err)
	env := newTestEnv(t, gw)
	p := env.createPayment(t, payment.MethodVNPay)

	params := map[string]string{
		"vnp_Amount":            "5000000",
		"vnp_OrderInfo":         "Thanh toan don hang 100",
		"vnp_ResponseCode":      "00",
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TransactionNo":     "14226112",
		"vnp_TransactionStatus": "00",
		"vnp_TxnRef":            p.PaymentID,
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("vnp_SecureHash", payment.VNPayCodec.Sign(params, secret))
	query := values.Encode()

	wellFormed, err := gw.ParseCallback(payment.CallbackInput{RequestURI: "/payment/vnpay/return?" + query})
	require.NoError(t, err)
	malformed, err := gw.ParseCallback(payment.CallbackInput{RequestURI: "/payment/vnpay/return&" + query})
	require.NoError(t, err)
	assert.Equal(t, wellFormed, malformed)

	out, err := env.recon.Reconcile(context.Background(), malformed)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, out.Result)
	assert.Equal(t, "14226112", out.Payment.TxnID())

	out, err = env.recon.Reconcile(context.Background(), wellFormed)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyApplied, out.Result)
	assert.Len(t, env.orders.recorded(), 1)
}

func TestPaymentOutcome_AckForUnknownResult(t *testing.T) {
	out := &PaymentOutcome{Result: "SOMETHING_ELSE"}
	assert.Equal(t, payment.AckRetry, out.Ack())
}
