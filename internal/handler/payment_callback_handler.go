package handler

import (
	"context"
	"embed"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"

	"paygate/internal/service"
	"paygate/pkg/logger"
	"paygate/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/payment_result.html
var templateFS embed.FS

var resultPage = template.Must(template.ParseFS(templateFS, "templates/payment_result.html"))

const maxCallbackBody = 64 << 10

var callbackPath = regexp.MustCompile(`^/payment/([a-z]+)/(return|ipn)$`)

type gatewayRegistry interface {
	Gateway(method string) (payment.Gateway, bool)
}

// CallbackHandler receives browser returns and provider webhooks.
type CallbackHandler struct {
	gateways gatewayRegistry
	recon    *service.ReconciliationService
}

func NewCallbackHandler(gateways gatewayRegistry, recon *service.ReconciliationService) *CallbackHandler {
	return &CallbackHandler{gateways: gateways, recon: recon}
}

type resultPageData struct {
	Success   bool
	Title     string
	Message   string
	PaymentID string
}

// Return handles the browser redirect back from the gateway.
func (h *CallbackHandler) Return(c *gin.Context) {
	h.handleReturn(c, c.Param("provider"))
}

// IPN handles the server-to-server notification and answers in the
// provider's format.
func (h *CallbackHandler) IPN(c *gin.Context) {
	h.handleIPN(c, c.Param("provider"))
}

// NoRoute catches return URLs whose parameters were appended after the path
// without a '?', e.g. /payment/vnpay/return&vnp_Amount=...
func (h *CallbackHandler) NoRoute(c *gin.Context) {
	provider, channel, ok := CallbackTarget(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "NOT_FOUND"})
		return
	}
	if channel == payment.ChannelReturn {
		h.handleReturn(c, provider)
		return
	}
	h.handleIPN(c, provider)
}

// CallbackTarget resolves the provider and channel a request is addressed to,
// including return URLs with a stray '&' in place of '?'.
func CallbackTarget(c *gin.Context) (provider, channel string, ok bool) {
	uri := c.Request.RequestURI
	if uri == "" {
		uri = c.Request.URL.RequestURI()
	}
	path, _ := payment.SplitStrayQuery(uri)
	m := callbackPath.FindStringSubmatch(path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Throttled answers a callback that was rate limited. Browsers still get the
// result page and providers get their retry ack, so neither sees a bare 429.
func (h *CallbackHandler) Throttled(c *gin.Context) {
	provider, channel, ok := CallbackTarget(c)
	gw, known := h.gateways.Gateway(provider)
	switch {
	case ok && channel == payment.ChannelReturn:
		h.renderResult(c, resultPageData{
			Title:   "Thanh toán không thành công",
			Message: "Hệ thống đang bận. Trạng thái đơn hàng sẽ được cập nhật sau.",
		})
	case ok && known:
		logger.SW("provider", gw.Method(), "channel", channel).Warnw("payment_ipn_throttled")
		h.acknowledge(c, gw, payment.AckRetry)
	default:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RATE_LIMITED"})
	}
}

func (h *CallbackHandler) handleReturn(c *gin.Context, provider string) {
	gw, ok := h.gateways.Gateway(provider)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment provider", "code": "NOT_FOUND"})
		return
	}
	log := logger.SW("provider", gw.Method(), "channel", payment.ChannelReturn)

	page := resultPageData{
		Title:   "Thanh toán không thành công",
		Message: "Giao dịch chưa được xác nhận. Vui lòng kiểm tra lại đơn hàng hoặc liên hệ hỗ trợ.",
	}
	cb, err := gw.ParseCallback(readCallback(c))
	if err != nil {
		log.Warnw("payment_return_malformed", "error", err)
		h.renderResult(c, page)
		return
	}
	cb.Channel = payment.ChannelReturn

	out, err := h.recon.Reconcile(withRequestInfo(c), cb)
	if err != nil {
		page.Message = "Hệ thống đang bận. Trạng thái đơn hàng sẽ được cập nhật sau."
		h.renderResult(c, page)
		return
	}
	if out.Payment != nil {
		page.PaymentID = out.Payment.PaymentID
	}
	if out.Succeeded() {
		page.Success = true
		page.Title = "Thanh toán thành công"
		page.Message = "Cảm ơn bạn. Đơn hàng của bạn đã được thanh toán."
	}
	h.renderResult(c, page)
}

func (h *CallbackHandler) renderResult(c *gin.Context, data resultPageData) {
	c.Render(http.StatusOK, render.HTML{Template: resultPage, Name: "payment_result.html", Data: data})
}

func (h *CallbackHandler) handleIPN(c *gin.Context, provider string) {
	gw, ok := h.gateways.Gateway(provider)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment provider", "code": "NOT_FOUND"})
		return
	}

	ack := payment.AckRetry
	cb, err := gw.ParseCallback(readCallback(c))
	if err != nil {
		logger.SW("provider", gw.Method(), "channel", payment.ChannelIPN, "error", err).Warnw("payment_ipn_malformed")
		ack = payment.AckInvalidSignature
	} else {
		cb.Channel = payment.ChannelIPN
		if out, err := h.recon.Reconcile(withRequestInfo(c), cb); err == nil {
			ack = out.Ack()
		}
	}

	h.acknowledge(c, gw, ack)
}

func (h *CallbackHandler) acknowledge(c *gin.Context, gw payment.Gateway, ack payment.Ack) {
	status, body := gw.Acknowledge(ack)
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

func readCallback(c *gin.Context) payment.CallbackInput {
	in := payment.CallbackInput{
		RequestURI:  c.Request.RequestURI,
		ContentType: c.ContentType(),
	}
	if c.Request.Body != nil && c.Request.Method != http.MethodGet {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err == nil {
			in.Body = body
		}
	}
	if in.RequestURI == "" {
		in.RequestURI = c.Request.URL.RequestURI()
	}
	return in
}

func withRequestInfo(c *gin.Context) context.Context {
	return service.WithRequestInfo(c.Request.Context(), service.RequestInfo{
		IP:        c.ClientIP(),
		UserAgent: strings.TrimSpace(c.Request.UserAgent()),
	})
}
