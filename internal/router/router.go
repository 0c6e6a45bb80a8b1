package router

import (
	"context"
	"fmt"
	"net/http"

	"paygate/config"
	"paygate/internal/events"
	"paygate/internal/handler"
	"paygate/internal/metrics"
	"paygate/internal/middleware"
	"paygate/internal/orders"
	"paygate/internal/repository"
	"paygate/internal/service"
	"paygate/internal/ws"
	"paygate/pkg/logger"
	"paygate/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Setup wires the service and returns the engine plus a cleanup func that
// releases background resources.
func Setup(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gin.Engine, func(), error) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	gateways, err := buildGateways(cfg)
	if err != nil {
		return nil, nil, err
	}
	keys, err := payment.NewReferenceGenerator(20)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPaymentMetrics(reg)

	// Repositories
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Collaborators and listeners
	orderClient := orders.NewClient(cfg.Orders.BaseURL, cfg.Orders.Token, cfg.Orders.Timeout)
	fcmSvc := service.NewFCMService(ctx, cfg.Firebase.ServiceAccountPath)
	if fcmSvc != nil {
		logger.S().Infow("fcm_enabled")
	} else {
		logger.S().Infow("fcm_disabled", "reason", "set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	notifSvc := service.NewNotificationService(notificationRepo, fcmSvc, cfg.Firebase.Timeout)
	hub := ws.NewHub()
	listeners := []service.StatusListener{notifSvc, hub}
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
		listeners = append(listeners, publisher)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.SW("error", err).Warnw("kafka_close_failed")
			}
		})
		logger.SW("brokers", brokers, "topic", cfg.Kafka.Topic).Infow("kafka_events_enabled")
	}

	// Services
	reconSvc := service.NewReconciliationService(paymentRepo, auditRepo, orderClient, paymentMetrics, listeners...)
	paymentSvc := service.NewPaymentService(paymentRepo, orderClient, gateways, keys, paymentMetrics)
	refundSvc := service.NewRefundService(paymentRepo, refundRepo, reconSvc, gateways, keys, paymentMetrics)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(paymentSvc, refundSvc)
	callbackHandler := handler.NewCallbackHandler(paymentSvc, reconSvc)

	globalLimiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	returnLimiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.CallbackRequests, cfg.RateLimit.Window)
	ipnLimiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.IPNRequests, cfg.RateLimit.Window)
	closers = append(closers, globalLimiter.Stop, returnLimiter.Stop, ipnLimiter.Stop)
	callbackLimit := callbackRateLimit(returnLimiter, ipnLimiter, callbackHandler.Throttled)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	pay := r.Group("/payment")
	{
		api := pay.Group("", middleware.RateLimit(globalLimiter))
		api.POST("/create", paymentHandler.Create)
		api.POST("/refund", paymentHandler.Refund)
		api.GET("/status/:transactionId", paymentHandler.Status)

		callbacks := pay.Group("/:provider", callbackLimit)
		callbacks.GET("/return", callbackHandler.Return)
		callbacks.GET("/ipn", callbackHandler.IPN)
		callbacks.POST("/ipn", callbackHandler.IPN)
	}
	r.GET("/ws/payments/:paymentId", middleware.RateLimit(globalLimiter), ws.ServePaymentStatus(hub, paymentSvc.Snapshot))
	r.NoRoute(callbackLimit, callbackHandler.NoRoute)

	return r, cleanup, nil
}

func buildGateways(cfg *config.Config) ([]payment.Gateway, error) {
	var gateways []payment.Gateway
	if cfg.VNPay.Enabled() {
		g, err := payment.NewVNPay(payment.VNPayConfig{
			TmnCode:     cfg.VNPay.TmnCode,
			HashSecret:  cfg.VNPay.HashSecret,
			PayURL:      cfg.VNPay.PayURL,
			APIURL:      cfg.VNPay.APIURL,
			ReturnURL:   cfg.VNPay.ReturnURL,
			Version:     cfg.VNPay.Version,
			Locale:      cfg.VNPay.Locale,
			ExpireAfter: cfg.VNPay.ExpireAfter,
			Timeout:     cfg.VNPay.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("router: vnpay: %w", err)
		}
		gateways = append(gateways, g)
	} else {
		logger.S().Warnw("gateway_disabled", "provider", payment.MethodVNPay, "reason", "set VNPAY_TMN_CODE and VNPAY_HASH_SECRET")
	}
	if cfg.MoMo.Enabled() {
		g, err := payment.NewMoMo(payment.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			RedirectURL: cfg.MoMo.RedirectURL,
			IPNURL:      cfg.MoMo.IPNURL,
			RequestType: cfg.MoMo.RequestType,
			Timeout:     cfg.MoMo.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("router: momo: %w", err)
		}
		gateways = append(gateways, g)
	} else {
		logger.S().Warnw("gateway_disabled", "provider", payment.MethodMoMo, "reason", "set MOMO_PARTNER_CODE, MOMO_ACCESS_KEY and MOMO_SECRET_KEY")
	}
	return gateways, nil
}

// callbackRateLimit limits browser returns per client IP. Provider
// notifications arrive from a handful of provider addresses, so they share
// one larger budget per provider instead.
func callbackRateLimit(returns, ipn *middleware.InMemoryRateLimiter, onLimited gin.HandlerFunc) gin.HandlerFunc {
	byIP := middleware.RateLimitBy(returns, middleware.ClientIPKey, onLimited)
	byProvider := middleware.RateLimitBy(ipn, func(c *gin.Context) string {
		provider, _, _ := handler.CallbackTarget(c)
		return provider
	}, onLimited)
	return func(c *gin.Context) {
		if _, channel, ok := handler.CallbackTarget(c); ok && channel == payment.ChannelIPN {
			byProvider(c)
			return
		}
		byIP(c)
	}
}
