package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"paygate/internal/database"
	"paygate/internal/domain"
	"paygate/internal/orders"
	"paygate/internal/repository"
	"paygate/internal/service"
	"paygate/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "VNPAYSECRETKEY0123456789"

type stubOrders struct {
	mu      sync.Mutex
	updates []string
}

func (s *stubOrders) GetOrder(_ context.Context, id uint) (*orders.Order, error) {
	if id != 100 {
		return nil, nil
	}
	return &orders.Order{ID: 100, UserID: 7, TotalAmount: 50000}, nil
}

func (s *stubOrders) UpdatePaymentStatus(_ context.Context, _ uint, status, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, status)
	return nil
}

type testServer struct {
	engine   *gin.Engine
	orders   *stubOrders
	payments *repository.PaymentRepository
}

func newTestServer(t *testing.T, momoEndpoint string, vnpayAPI ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.NewTestDB()
	require.NoError(t, err)

	vnpayCfg := payment.VNPayConfig{TmnCode: "TESTTMN1", HashSecret: testSecret, Timeout: time.Second}
	if len(vnpayAPI) > 0 {
		vnpayCfg.APIURL = vnpayAPI[0]
	}
	vnpay, err := payment.NewVNPay(vnpayCfg)
	require.NoError(t, err)
	momo, err := payment.NewMoMo(payment.MoMoConfig{PartnerCode: "MOMOTEST", AccessKey: "AK", SecretKey: "SK", Endpoint: momoEndpoint, Timeout: time.Second})
	require.NoError(t, err)
	gateways := []payment.Gateway{vnpay, momo}

	ts := &testServer{orders: &stubOrders{}, payments: repository.NewPaymentRepository(db)}
	keys, err := payment.NewReferenceGenerator(20)
	require.NoError(t, err)
	recon := service.NewReconciliationService(ts.payments, repository.NewAuditLogRepository(db), ts.orders, nil)
	paySvc := service.NewPaymentService(ts.payments, ts.orders, gateways, keys, nil)
	refundSvc := service.NewRefundService(ts.payments, repository.NewRefundRepository(db), recon, gateways, keys, nil)

	ph := NewPaymentHandler(paySvc, refundSvc)
	ch := NewCallbackHandler(paySvc, recon)

	r := gin.New()
	r.POST("/payment/create", ph.Create)
	r.POST("/payment/refund", ph.Refund)
	r.GET("/payment/status/:transactionId", ph.Status)
	r.GET("/payment/:provider/return", ch.Return)
	r.GET("/payment/:provider/ipn", ch.IPN)
	r.POST("/payment/:provider/ipn", ch.IPN)
	r.NoRoute(ch.NoRoute)
	ts.engine = r
	return ts
}

func (ts *testServer) do(method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createVNPay(t *testing.T) string {
	t.Helper()
	w := ts.do(http.MethodPost, "/payment/create", []byte(`{"orderId":100,"amount":50000,"paymentMethod":"VNPAY"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		PaymentID   string `json:"paymentId"`
		RedirectURL string `json:"redirectUrl"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
	assert.Contains(t, resp.RedirectURL, "vnp_TxnRef="+resp.PaymentID)
	return resp.PaymentID
}

func vnpayQuery(key, amount, code string) string {
	params := map[string]string{
		"vnp_Amount":            amount,
		"vnp_OrderInfo":         "Thanh toan don hang 100",
		"vnp_ResponseCode":      code,
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TransactionNo":     "14226112",
		"vnp_TransactionStatus": code,
		"vnp_TxnRef":            key,
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("vnp_SecureHash", payment.VNPayCodec.Sign(params, testSecret))
	return values.Encode()
}

func decodeAck(t *testing.T, w *httptest.ResponseRecorder) payment.VNPayAck {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var ack payment.VNPayAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	return ack
}

func TestCreatePayment_Errors(t *testing.T) {
	ts := newTestServer(t, "")
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"zero amount", `{"orderId":100,"amount":0,"paymentMethod":"VNPAY"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown method", `{"orderId":100,"amount":50000,"paymentMethod":"BTC"}`, http.StatusBadRequest, "UNSUPPORTED_METHOD"},
		{"unknown order", `{"orderId":5,"amount":50000,"paymentMethod":"VNPAY"}`, http.StatusNotFound, "ORDER_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/payment/create", []byte(tt.body), "application/json")
			assert.Equal(t, tt.status, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp["code"])
		})
	}
}

func TestVNPayIPN_Flow(t *testing.T) {
	ts := newTestServer(t, "")
	key := ts.createVNPay(t)

	ack := decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery(key, "4000000", "00"), nil, ""))
	assert.Equal(t, "04", ack.RspCode)

	tampered := strings.Replace(vnpayQuery(key, "5000000", "00"), "vnp_ResponseCode=00", "vnp_ResponseCode=01", 1)
	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+tampered, nil, ""))
	assert.Equal(t, "97", ack.RspCode)

	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery("NOPE", "5000000", "00"), nil, ""))
	assert.Equal(t, "01", ack.RspCode)

	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery(key, "5000000", "00"), nil, ""))
	assert.Equal(t, "00", ack.RspCode)
	assert.Equal(t, "Confirm Success", ack.Message)

	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery(key, "5000000", "00"), nil, ""))
	assert.Equal(t, "00", ack.RspCode)
	assert.Equal(t, "Already Confirmed", ack.Message)

	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery(key, "5000000", "24"), nil, ""))
	assert.Equal(t, "02", ack.RspCode)

	ack = decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn", nil, ""))
	assert.Equal(t, "97", ack.RspCode)

	assert.Equal(t, []string{domain.OrderPaymentPaid}, ts.orders.updates)

	w := ts.do(http.MethodGet, "/payment/status/14226112", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "COMPLETED", status["status"])
	assert.Equal(t, key, status["paymentId"])
}

func TestVNPayReturn_MalformedURL(t *testing.T) {
	ts := newTestServer(t, "")
	key := ts.createVNPay(t)

	w := ts.do(http.MethodGet, "/payment/vnpay/return&"+vnpayQuery(key, "5000000", "00"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Thanh toán thành công")
	assert.Contains(t, w.Body.String(), key)

	w = ts.do(http.MethodGet, "/payment/vnpay/return?"+vnpayQuery(key, "5000000", "00"), nil, "")
	assert.Contains(t, w.Body.String(), "Thanh toán thành công")
	assert.Len(t, ts.orders.updates, 1)
}

func TestVNPayReturn_FailurePageHidesDetail(t *testing.T) {
	ts := newTestServer(t, "")
	key := ts.createVNPay(t)

	w := ts.do(http.MethodGet, "/payment/vnpay/return?"+vnpayQuery(key, "100", "00"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Thanh toán không thành công")
	assert.NotContains(t, strings.ToLower(body), "amount")
	assert.NotContains(t, strings.ToLower(body), "signature")
}

func TestUnknownRoutes(t *testing.T) {
	ts := newTestServer(t, "")
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/nothing", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/payment/paypal/ipn?x=1", nil, "").Code)
}

func TestMoMoIPN_JSONBody(t *testing.T) {
	momoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"resultCode": 0, "payUrl": "https://test-payment.momo.vn/pay/" + req["orderId"].(string),
		})
	}))
	defer momoSrv.Close()
	ts := newTestServer(t, momoSrv.URL)

	w := ts.do(http.MethodPost, "/payment/create", []byte(`{"orderId":100,"amount":50000,"paymentMethod":"MOMO"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	key := created["paymentId"].(string)

	fields := map[string]string{
		"accessKey": "AK", "amount": "50000", "extraData": "", "message": "Successful.", "orderId": key,
		"orderInfo": "Thanh toan don hang 100", "orderType": "momo_wallet", "partnerCode": "MOMOTEST",
		"payType": "qr", "requestId": "R1", "responseTime": "1721720663942", "resultCode": "0", "transId": "4088878653",
	}
	body, _ := json.Marshal(map[string]interface{}{
		"partnerCode": "MOMOTEST", "orderId": key, "requestId": "R1", "amount": 50000,
		"orderInfo": fields["orderInfo"], "orderType": "momo_wallet", "transId": int64(4088878653),
		"resultCode": 0, "message": "Successful.", "payType": "qr", "responseTime": int64(1721720663942),
		"extraData": "", "signature": payment.MoMoCodec.Sign(fields, "SK"),
	})

	w = ts.do(http.MethodPost, "/payment/momo/ipn", body, "application/json")
	assert.Equal(t, http.StatusNoContent, w.Code)

	p, err := ts.payments.FindByCorrelationKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "4088878653", p.TxnID())

	w = ts.do(http.MethodPost, "/payment/momo/ipn", []byte("{broken"), "application/json")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRefundEndpoint(t *testing.T) {
	calls := 0
	vnpayAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]string{
			"vnp_ResponseId": "R" + req["vnp_RequestId"], "vnp_Command": "refund", "vnp_ResponseCode": "00",
			"vnp_Message": "Refund success", "vnp_TmnCode": "TESTTMN1", "vnp_TxnRef": req["vnp_TxnRef"],
			"vnp_Amount": req["vnp_Amount"], "vnp_BankCode": "NCB", "vnp_PayDate": "20240301110000",
			"vnp_TransactionNo": "14226999", "vnp_TransactionType": req["vnp_TransactionType"],
			"vnp_TransactionStatus": "05", "vnp_OrderInfo": req["vnp_OrderInfo"],
		}
		resp["vnp_SecureHash"] = payment.VNPayCodec.SignString(strings.Join([]string{
			resp["vnp_ResponseId"], resp["vnp_Command"], resp["vnp_ResponseCode"], resp["vnp_Message"],
			resp["vnp_TmnCode"], resp["vnp_TxnRef"], resp["vnp_Amount"], resp["vnp_BankCode"],
			resp["vnp_PayDate"], resp["vnp_TransactionNo"], resp["vnp_TransactionType"],
			resp["vnp_TransactionStatus"], resp["vnp_OrderInfo"],
		}, "|"), testSecret)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer vnpayAPI.Close()

	ts := newTestServer(t, "", vnpayAPI.URL)
	key := ts.createVNPay(t)

	w := ts.do(http.MethodPost, "/payment/refund", []byte(`{"paymentId":"`+key+`"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "REFUND_NOT_ALLOWED")

	w = ts.do(http.MethodPost, "/payment/refund", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/payment/refund", []byte(`{"transactionId":"404"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	decodeAck(t, ts.do(http.MethodGet, "/payment/vnpay/ipn?"+vnpayQuery(key, "5000000", "00"), nil, ""))

	w = ts.do(http.MethodPost, "/payment/refund", []byte(`{"transactionId":"14226112","reason":"customer request"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Result  string `json:"result"`
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
		Refund struct {
			Amount           int64  `json:"amount"`
			ProviderRefundID string `json:"providerRefundId"`
		} `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "REFUNDED", resp.Result)
	assert.Equal(t, "REFUNDED", resp.Payment.Status)
	assert.Equal(t, int64(50000), resp.Refund.Amount)
	assert.Equal(t, "14226999", resp.Refund.ProviderRefundID)

	w = ts.do(http.MethodPost, "/payment/refund", []byte(`{"transactionId":"14226112"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_REFUNDED")
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{domain.OrderPaymentPaid, domain.OrderPaymentRefunded}, ts.orders.updates)
}
