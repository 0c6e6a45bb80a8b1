package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	vnpayTimeLayout       = "20060102150405"
	vnpaySuccessCode      = "00"
	vnpayRefundFull       = "02"
	vnpayRefundPartial    = "03"
	vnpayDefaultVersion   = "2.1.0"
	vnpayAmountMultiplier = 100
)

// VNPay timestamps are GMT+7 regardless of server location.
var vnpayZone = time.FixedZone("ICT", 7*60*60)

type VNPayConfig struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	APIURL      string
	ReturnURL   string
	Version     string
	Locale      string
	ExpireAfter time.Duration
	Timeout     time.Duration
}

// VNPay is the redirect-based VNPAY gateway. Payment URLs are signed locally;
// refunds go through the merchant web API.
type VNPay struct {
	cfg    VNPayConfig
	codec  Codec
	client *http.Client
	now    func() time.Time
}

func NewVNPay(cfg VNPayConfig) (*VNPay, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("vnpay: tmn code and hash secret are required")
	}
	if cfg.PayURL == "" {
		cfg.PayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"
	}
	if cfg.Version == "" {
		cfg.Version = vnpayDefaultVersion
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &VNPay{
		cfg:    cfg,
		codec:  VNPayCodec,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

func (g *VNPay) Method() string { return MethodVNPay }

func (g *VNPay) SupportsPartialRefund() bool { return true }

func (g *VNPay) BuildRequest(ctx context.Context, in Intent) (*Checkout, error) {
	if in.Amount <= 0 {
		return nil, errors.New("vnpay: amount must be positive")
	}
	if in.CorrelationKey == "" {
		return nil, errors.New("vnpay: correlation key is required")
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = g.now()
	}
	created = created.In(vnpayZone)

	params := map[string]string{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(in.Amount*vnpayAmountMultiplier, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     in.CorrelationKey,
		"vnp_OrderInfo":  in.Description,
		"vnp_OrderType":  "other",
		"vnp_Locale":     g.cfg.Locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     clientIP(in.ClientIP),
		"vnp_CreateDate": created.Format(vnpayTimeLayout),
		"vnp_ExpireDate": created.Add(g.cfg.ExpireAfter).Format(vnpayTimeLayout),
	}
	if in.BankCode != "" {
		params["vnp_BankCode"] = in.BankCode
	}

	query := g.codec.Canonical(params)
	signature := g.codec.SignString(query, g.cfg.HashSecret)
	return &Checkout{
		CorrelationKey: in.CorrelationKey,
		RedirectURL:    g.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + signature,
	}, nil
}

func (g *VNPay) VerifySignature(params map[string]string) bool {
	if tmn := params["vnp_TmnCode"]; tmn != "" && tmn != g.cfg.TmnCode {
		return false
	}
	return g.codec.Verify(params, params["vnp_SecureHash"], g.cfg.HashSecret)
}

func (g *VNPay) ParseCallback(in CallbackInput) (*CallbackResult, error) {
	params, err := ExtractParams(in)
	if err != nil {
		return nil, err
	}
	key := params["vnp_TxnRef"]
	if key == "" {
		return nil, ErrMalformedCallback
	}

	txn := params["vnp_TransactionNo"]
	if txn == "0" {
		txn = ""
	}
	code := params["vnp_ResponseCode"]
	status, hasStatus := params["vnp_TransactionStatus"]
	return &CallbackResult{
		Provider:              MethodVNPay,
		CorrelationKey:        key,
		ProviderTransactionID: txn,
		Amount:                parseAmount(params["vnp_Amount"], vnpayAmountMultiplier),
		ResultCode:            code,
		Succeeded:             code == vnpaySuccessCode && (!hasStatus || status == vnpaySuccessCode),
		SignatureValid:        g.VerifySignature(params),
		RawParams:             params,
	}, nil
}

type vnpayRefundRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TransactionType string `json:"vnp_TransactionType"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          string `json:"vnp_Amount"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionNo   string `json:"vnp_TransactionNo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateBy        string `json:"vnp_CreateBy"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type vnpayRefundResponse struct {
	ResponseID        flexString `json:"vnp_ResponseId"`
	Command           flexString `json:"vnp_Command"`
	ResponseCode      flexString `json:"vnp_ResponseCode"`
	Message           flexString `json:"vnp_Message"`
	TmnCode           flexString `json:"vnp_TmnCode"`
	TxnRef            flexString `json:"vnp_TxnRef"`
	Amount            flexString `json:"vnp_Amount"`
	BankCode          flexString `json:"vnp_BankCode"`
	PayDate           flexString `json:"vnp_PayDate"`
	TransactionNo     flexString `json:"vnp_TransactionNo"`
	TransactionType   flexString `json:"vnp_TransactionType"`
	TransactionStatus flexString `json:"vnp_TransactionStatus"`
	OrderInfo         flexString `json:"vnp_OrderInfo"`
	SecureHash        flexString `json:"vnp_SecureHash"`
}

func (g *VNPay) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Amount <= 0 || req.Amount > req.PaymentAmount {
		return nil, errors.New("vnpay: refund amount out of range")
	}
	txType := vnpayRefundFull
	if req.Partial() {
		txType = vnpayRefundPartial
	}
	createdBy := req.RequestedBy
	if createdBy == "" {
		createdBy = "system"
	}
	info := req.Reason
	if info == "" {
		info = "Hoan tien giao dich " + req.CorrelationKey
	}

	body := vnpayRefundRequest{
		RequestID:       req.RequestID,
		Version:         g.cfg.Version,
		Command:         "refund",
		TmnCode:         g.cfg.TmnCode,
		TransactionType: txType,
		TxnRef:          req.CorrelationKey,
		Amount:          strconv.FormatInt(req.Amount*vnpayAmountMultiplier, 10),
		OrderInfo:       info,
		TransactionNo:   req.ProviderTransactionID,
		TransactionDate: req.TransactionDate.In(vnpayZone).Format(vnpayTimeLayout),
		CreateBy:        createdBy,
		CreateDate:      g.now().In(vnpayZone).Format(vnpayTimeLayout),
		IPAddr:          clientIP(req.ClientIP),
	}
	body.SecureHash = g.codec.SignString(strings.Join([]string{
		body.RequestID, body.Version, body.Command, body.TmnCode, body.TransactionType,
		body.TxnRef, body.Amount, body.TransactionNo, body.TransactionDate,
		body.CreateBy, body.CreateDate, body.IPAddr, body.OrderInfo,
	}, "|"), g.cfg.HashSecret)

	var out vnpayRefundResponse
	if err := postJSON(ctx, g.client, MethodVNPay, g.cfg.APIURL, body, &out); err != nil {
		return nil, err
	}

	expected := g.codec.SignString(strings.Join([]string{
		string(out.ResponseID), string(out.Command), string(out.ResponseCode), string(out.Message),
		string(out.TmnCode), string(out.TxnRef), string(out.Amount), string(out.BankCode),
		string(out.PayDate), string(out.TransactionNo), string(out.TransactionType),
		string(out.TransactionStatus), string(out.OrderInfo),
	}, "|"), g.cfg.HashSecret)
	if !strings.EqualFold(expected, string(out.SecureHash)) {
		return nil, ErrInvalidResponseSignature
	}
	if out.ResponseCode != vnpaySuccessCode {
		return nil, &RejectedError{Provider: MethodVNPay, Code: string(out.ResponseCode), Message: string(out.Message)}
	}
	return &RefundResult{
		RequestID:        req.RequestID,
		ProviderRefundID: string(out.TransactionNo),
		ResultCode:       string(out.ResponseCode),
		Message:          string(out.Message),
	}, nil
}

// VNPayAck is the IPN answer VNPAY expects.
type VNPayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func (g *VNPay) Acknowledge(ack Ack) (int, interface{}) {
	switch ack {
	case AckConfirmed:
		return http.StatusOK, VNPayAck{RspCode: "00", Message: "Confirm Success"}
	case AckAlreadyConfirmed:
		return http.StatusOK, VNPayAck{RspCode: "00", Message: "Already Confirmed"}
	case AckNotFound:
		return http.StatusOK, VNPayAck{RspCode: "01", Message: "Order not found"}
	case AckConflict:
		return http.StatusOK, VNPayAck{RspCode: "02", Message: "Order already confirmed"}
	case AckInvalidAmount:
		return http.StatusOK, VNPayAck{RspCode: "04", Message: "Invalid amount"}
	case AckInvalidSignature:
		return http.StatusOK, VNPayAck{RspCode: "97", Message: "Invalid signature"}
	default:
		return http.StatusOK, VNPayAck{RspCode: "99", Message: "Unknown error"}
	}
}

func clientIP(ip string) string {
	if ip == "" {
		return "127.0.0.1"
	}
	return ip
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}
