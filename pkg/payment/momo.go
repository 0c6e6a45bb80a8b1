package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const momoSuccessCode = 0

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	RequestType string
	Lang        string
	Timeout     time.Duration
}

// MoMo is the MOMO wallet gateway. Both payment creation and refunds are
// server-to-server calls; the customer is sent to payUrl or scans qrCodeUrl.
type MoMo struct {
	cfg       MoMoConfig
	codec     Codec
	client    *http.Client
	requestID func() string
}

func NewMoMo(cfg MoMoConfig) (*MoMo, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("momo: partner code, access key and secret key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://test-payment.momo.vn"
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	if cfg.Lang == "" {
		cfg.Lang = "vi"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MoMo{
		cfg:       cfg,
		codec:     MoMoCodec,
		client:    &http.Client{Timeout: cfg.Timeout},
		requestID: uuid.NewString,
	}, nil
}

func (g *MoMo) Method() string { return MethodMoMo }

func (g *MoMo) SupportsPartialRefund() bool { return true }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

func (g *MoMo) BuildRequest(ctx context.Context, in Intent) (*Checkout, error) {
	if in.Amount <= 0 {
		return nil, errors.New("momo: amount must be positive")
	}
	if in.CorrelationKey == "" {
		return nil, errors.New("momo: correlation key is required")
	}
	req := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   g.requestID(),
		Amount:      in.Amount,
		OrderID:     in.CorrelationKey,
		OrderInfo:   in.Description,
		RedirectURL: g.cfg.RedirectURL,
		IPNURL:      g.cfg.IPNURL,
		RequestType: g.cfg.RequestType,
		Lang:        g.cfg.Lang,
	}
	req.Signature = g.codec.Sign(map[string]string{
		"accessKey":   g.cfg.AccessKey,
		"amount":      strconv.FormatInt(req.Amount, 10),
		"extraData":   req.ExtraData,
		"ipnUrl":      req.IPNURL,
		"orderId":     req.OrderID,
		"orderInfo":   req.OrderInfo,
		"partnerCode": req.PartnerCode,
		"redirectUrl": req.RedirectURL,
		"requestId":   req.RequestID,
		"requestType": req.RequestType,
	}, g.cfg.SecretKey)

	var out momoCreateResponse
	if err := postJSON(ctx, g.client, MethodMoMo, g.cfg.Endpoint+"/v2/gateway/api/create", req, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != momoSuccessCode {
		return nil, &RejectedError{Provider: MethodMoMo, Code: strconv.Itoa(out.ResultCode), Message: out.Message}
	}
	if out.PayURL == "" && out.QRCodeURL == "" {
		return nil, &RejectedError{Provider: MethodMoMo, Code: "empty_checkout", Message: "no payUrl or qrCodeUrl returned"}
	}
	return &Checkout{
		CorrelationKey:    in.CorrelationKey,
		RedirectURL:       out.PayURL,
		QRPayload:         out.QRCodeURL,
		ProviderRequestID: req.RequestID,
	}, nil
}

// momoCallbackFields are the fields MoMo signs on redirects and IPNs.
var momoCallbackFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

func (g *MoMo) VerifySignature(params map[string]string) bool {
	if pc := params["partnerCode"]; pc != g.cfg.PartnerCode {
		return false
	}
	signed := make(map[string]string, len(momoCallbackFields)+1)
	signed["accessKey"] = g.cfg.AccessKey
	for _, f := range momoCallbackFields {
		signed[f] = params[f]
	}
	return g.codec.Verify(signed, params["signature"], g.cfg.SecretKey)
}

func (g *MoMo) ParseCallback(in CallbackInput) (*CallbackResult, error) {
	params, err := ExtractParams(in)
	if err != nil {
		return nil, err
	}
	key := params["orderId"]
	if key == "" {
		return nil, ErrMalformedCallback
	}
	code := strings.TrimSpace(params["resultCode"])
	return &CallbackResult{
		Provider:              MethodMoMo,
		CorrelationKey:        key,
		ProviderTransactionID: params["transId"],
		Amount:                parseAmount(params["amount"], 1),
		ResultCode:            code,
		Message:               params["message"],
		Succeeded:             code == strconv.Itoa(momoSuccessCode),
		SignatureValid:        g.VerifySignature(params),
		RawParams:             params,
	}, nil
}

type momoRefundRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	Lang        string `json:"lang"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
}

type momoRefundResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
}

func (g *MoMo) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Amount <= 0 || req.Amount > req.PaymentAmount {
		return nil, errors.New("momo: refund amount out of range")
	}
	transID, err := strconv.ParseInt(req.ProviderTransactionID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("momo: invalid transaction id %q", req.ProviderTransactionID)
	}
	body := momoRefundRequest{
		PartnerCode: g.cfg.PartnerCode,
		OrderID:     req.RefundReference,
		RequestID:   req.RequestID,
		Amount:      req.Amount,
		TransID:     transID,
		Lang:        g.cfg.Lang,
		Description: req.Reason,
	}
	body.Signature = g.codec.Sign(map[string]string{
		"accessKey":   g.cfg.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"description": body.Description,
		"orderId":     body.OrderID,
		"partnerCode": body.PartnerCode,
		"requestId":   body.RequestID,
		"transId":     strconv.FormatInt(body.TransID, 10),
	}, g.cfg.SecretKey)

	var out momoRefundResponse
	if err := postJSON(ctx, g.client, MethodMoMo, g.cfg.Endpoint+"/v2/gateway/api/refund", body, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != momoSuccessCode {
		return nil, &RejectedError{Provider: MethodMoMo, Code: strconv.Itoa(out.ResultCode), Message: out.Message}
	}
	return &RefundResult{
		RequestID:        req.RequestID,
		ProviderRefundID: strconv.FormatInt(out.TransID, 10),
		ResultCode:       strconv.Itoa(out.ResultCode),
		Message:          out.Message,
	}, nil
}

// Acknowledge answers MoMo IPNs: 204 when MoMo must stop retrying, 500 when
// the failure was on our side and a redelivery is wanted.
func (g *MoMo) Acknowledge(ack Ack) (int, interface{}) {
	if ack == AckRetry {
		return http.StatusInternalServerError, map[string]string{"message": "temporarily unavailable"}
	}
	return http.StatusNoContent, nil
}
