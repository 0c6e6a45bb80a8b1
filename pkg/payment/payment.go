package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	MethodVNPay = "VNPAY"
	MethodMoMo  = "MOMO"
)

const (
	ChannelReturn = "return"
	ChannelIPN    = "ipn"
)

var (
	ErrMalformedCallback        = errors.New("payment: malformed callback")
	ErrInvalidResponseSignature = errors.New("payment: provider response signature mismatch")
)

// TransientError wraps network failures, timeouts and 5xx answers. The
// provider-side effect is unknown; callers may retry the whole operation.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a definitive refusal from the provider.
type RejectedError struct {
	Provider string
	Code     string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected: code=%s message=%s", e.Provider, e.Code, e.Message)
}

// Intent is the provider-independent description of one payment attempt.
type Intent struct {
	CorrelationKey string
	Amount         int64
	Description    string
	ClientIP       string
	BankCode       string
	CreatedAt      time.Time
}

type Checkout struct {
	CorrelationKey    string
	RedirectURL       string
	QRPayload         string
	ProviderRequestID string
}

// CallbackInput is an inbound redirect or webhook as received.
type CallbackInput struct {
	RequestURI  string
	ContentType string
	Body        []byte
}

// CallbackResult is a parsed, normalized callback. Amount is in platform minor
// units; -1 means the provider amount could not be normalized.
type CallbackResult struct {
	Provider              string
	Channel               string
	CorrelationKey        string
	ProviderTransactionID string
	Amount                int64
	ResultCode            string
	Message               string
	Succeeded             bool
	SignatureValid        bool
	RawParams             map[string]string
}

type RefundRequest struct {
	CorrelationKey        string
	ProviderTransactionID string
	Amount                int64
	PaymentAmount         int64
	TransactionDate       time.Time
	RequestID             string
	RefundReference       string
	Reason                string
	RequestedBy           string
	ClientIP              string
}

func (r RefundRequest) Partial() bool {
	return r.Amount < r.PaymentAmount
}

type RefundResult struct {
	RequestID        string
	ProviderRefundID string
	ResultCode       string
	Message          string
}

// Ack is what a webhook handler wants to tell the provider.
type Ack int

const (
	AckConfirmed Ack = iota
	AckAlreadyConfirmed
	AckNotFound
	AckConflict
	AckInvalidAmount
	AckInvalidSignature
	AckRetry
)

// Gateway is one payment provider. Adding a provider adds an implementation.
type Gateway interface {
	Method() string
	BuildRequest(ctx context.Context, in Intent) (*Checkout, error)
	ParseCallback(in CallbackInput) (*CallbackResult, error)
	VerifySignature(params map[string]string) bool
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	SupportsPartialRefund() bool
	// Acknowledge renders the provider-mandated webhook answer. A nil body
	// means an empty response.
	Acknowledge(ack Ack) (status int, body interface{})
}
