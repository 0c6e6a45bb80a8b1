package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindIntegrity        ErrorKind = "INTEGRITY"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindConflict         ErrorKind = "CONFLICT"
	KindTransientGateway ErrorKind = "TRANSIENT_GATEWAY"
	KindGatewayRejected  ErrorKind = "GATEWAY_REJECTED"
)

type AppError struct {
	Kind     ErrorKind `json:"-"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	HTTPCode int       `json:"-"`
	Err      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, code string, httpCode int, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, HTTPCode: httpCode}
}

func (e *AppError) wrap(err error) *AppError {
	e.Err = err
	return e
}

// KindOf returns the kind of the first AppError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func ErrInvalidRequest(message string) *AppError {
	return NewError(KindValidation, "INVALID_REQUEST", http.StatusBadRequest, message)
}

func ErrInvalidAmount() *AppError {
	return NewError(KindValidation, "INVALID_AMOUNT", http.StatusBadRequest, "amount must be a positive integer in minor units")
}

func ErrUnsupportedMethod(method string) *AppError {
	return NewError(KindValidation, "UNSUPPORTED_METHOD", http.StatusBadRequest, fmt.Sprintf("payment method %q is not supported", method))
}

func ErrAmountMismatch(expected, got int64) *AppError {
	return NewError(KindValidation, "AMOUNT_MISMATCH", http.StatusBadRequest,
		fmt.Sprintf("amount %d does not match order total %d", got, expected))
}

func ErrRefundNotAllowed(status string) *AppError {
	return NewError(KindValidation, "REFUND_NOT_ALLOWED", http.StatusBadRequest,
		fmt.Sprintf("payment in status %s cannot be refunded", status))
}

func ErrRefundAmount(max int64) *AppError {
	return NewError(KindValidation, "INVALID_REFUND_AMOUNT", http.StatusBadRequest,
		fmt.Sprintf("refund amount must be between 1 and %d", max))
}

func ErrPartialRefundUnsupported(method string) *AppError {
	return NewError(KindValidation, "PARTIAL_REFUND_UNSUPPORTED", http.StatusBadRequest,
		fmt.Sprintf("%s only supports full refunds", method))
}

func ErrOrderNotFound(orderID uint) *AppError {
	return NewError(KindNotFound, "ORDER_NOT_FOUND", http.StatusNotFound, fmt.Sprintf("order %d not found", orderID))
}

func ErrPaymentNotFound(ref string) *AppError {
	return NewError(KindNotFound, "PAYMENT_NOT_FOUND", http.StatusNotFound, fmt.Sprintf("payment %s not found", ref))
}

func ErrTransitionConflict(current, target string) *AppError {
	return NewError(KindConflict, "TRANSITION_CONFLICT", http.StatusConflict,
		fmt.Sprintf("payment is %s, cannot become %s", current, target))
}

func ErrRefundInProgress() *AppError {
	return NewError(KindConflict, "REFUND_IN_PROGRESS", http.StatusConflict, "a refund for this payment is already in progress")
}

func ErrIntegrity(message string, err error) *AppError {
	return NewError(KindIntegrity, "INTEGRITY_ERROR", http.StatusUnprocessableEntity, message).wrap(err)
}

func ErrGatewayUnavailable(provider string, err error) *AppError {
	return NewError(KindTransientGateway, "GATEWAY_UNAVAILABLE", http.StatusServiceUnavailable,
		fmt.Sprintf("%s is temporarily unavailable, retry later", provider)).wrap(err)
}

func ErrGatewayRejected(provider, code, message string) *AppError {
	return NewError(KindGatewayRejected, "GATEWAY_REJECTED", http.StatusBadGateway,
		fmt.Sprintf("%s rejected the request (code %s): %s", provider, code, message))
}

func ErrOrderServiceUnavailable(err error) *AppError {
	return NewError(KindTransientGateway, "ORDER_SERVICE_UNAVAILABLE", http.StatusServiceUnavailable,
		"order service is temporarily unavailable, retry later").wrap(err)
}
