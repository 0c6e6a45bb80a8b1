package handler

import (
	"net/http"
	"time"

	"paygate/internal/domain"
	"paygate/internal/models"
	"paygate/internal/service"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	payments *service.PaymentService
	refunds  *service.RefundService
}

func NewPaymentHandler(payments *service.PaymentService, refunds *service.RefundService) *PaymentHandler {
	return &PaymentHandler{payments: payments, refunds: refunds}
}

type createPaymentBody struct {
	OrderID       uint   `json:"orderId"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
	Description   string `json:"description"`
	BankCode      string `json:"bankCode"`
}

// Create starts a payment attempt for an order.
func (h *PaymentHandler) Create(c *gin.Context) {
	var body createPaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	res, err := h.payments.Create(c.Request.Context(), service.CreatePaymentRequest{
		OrderID:       body.OrderID,
		Amount:        body.Amount,
		PaymentMethod: body.PaymentMethod,
		Description:   body.Description,
		BankCode:      body.BankCode,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"paymentId":     res.Payment.PaymentID,
		"redirectUrl":   res.RedirectURL,
		"qrPayload":     res.QRPayload,
		"paymentMethod": res.Payment.PaymentMethod,
		"status":        res.Payment.Status,
		"amount":        res.Payment.Amount,
	})
}

type refundBody struct {
	TransactionID string `json:"transactionId"`
	PaymentID     string `json:"paymentId"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// Refund refunds a completed payment. The operator is taken from X-Requested-By.
func (h *PaymentHandler) Refund(c *gin.Context) {
	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	requestedBy := c.GetHeader("X-Requested-By")
	if requestedBy == "" {
		requestedBy = "system"
	}
	ctx := service.WithRequestInfo(c.Request.Context(), service.RequestInfo{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()})
	out, err := h.refunds.Refund(ctx, service.RefundCommand{
		TransactionID: body.TransactionID,
		PaymentID:     body.PaymentID,
		Amount:        body.Amount,
		Reason:        body.Reason,
		RequestedBy:   requestedBy,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"result":  out.Result,
		"payment": paymentView(out.Payment),
	}
	if out.Refund != nil {
		resp["refund"] = gin.H{
			"amount":           out.Refund.Amount,
			"status":           out.Refund.Status,
			"providerRefundId": out.Refund.ProviderRefundID,
			"attempts":         out.Refund.Attempts,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns the payment for a provider transaction id or correlation key.
func (h *PaymentHandler) Status(c *gin.Context) {
	p, err := h.payments.Status(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentView(p))
}

type paymentResponse struct {
	PaymentID     string     `json:"paymentId"`
	OrderID       uint       `json:"orderId"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"paymentMethod"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func paymentView(p *models.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:     p.PaymentID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		Status:        p.Status,
		TransactionID: p.TxnID(),
		PaymentDate:   p.PaymentDate,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
