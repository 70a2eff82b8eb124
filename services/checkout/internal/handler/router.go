package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/checkout/internal/middleware"
)

const serviceName = "checkout"

// RouterConfig — зависимости роутера. Nil сервисы отключают свои маршруты.
type RouterConfig struct {
	Sessions  SessionCreator
	Callbacks CallbackProcessor
	Status    StatusReader
	COD       CODPlacer
	Orders    OrderGetter
	Mock      MockPayments // только development

	AuthMW        *middleware.AuthMiddleware
	CreateLimitMW *middleware.RateLimitMiddleware // create-session и COD
	CORS          middleware.CORSConfig
	Debug         bool
}

// NewRouter собирает gin engine со всеми маршрутами /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestContext(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORS),
		middleware.SecurityHeaders(),
		otelgin.Middleware(serviceName),
		metrics.GinMetricsMiddleware(serviceName),
	)

	v1 := engine.Group("/api/v1")
	payments := NewPaymentHandler(cfg.Sessions, cfg.Callbacks, cfg.Status)

	// Webhook шлюза без пользовательской авторизации: подлинность проверяется подписью.
	if cfg.Callbacks != nil {
		v1.POST("/payment/gateway/callback", payments.Callback)
	}

	if cfg.Mock != nil && cfg.Callbacks != nil {
		mock := NewMockHandler(cfg.Mock, cfg.Callbacks)
		v1.GET("/payment/mock/:transactionId", mock.Page)
		v1.POST("/payment/mock/:transactionId/complete", mock.Complete)
	}

	authed := v1.Group("")
	if cfg.AuthMW != nil {
		authed.Use(cfg.AuthMW.Handle())
	}

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if cfg.CreateLimitMW == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{cfg.CreateLimitMW.Handle(), h}
	}

	if cfg.Sessions != nil {
		authed.POST("/payment/create-session", limited(payments.CreateSession)...)
	}
	if cfg.Status != nil {
		authed.GET("/payment/status/:transactionId", payments.Status)
	}

	orders := NewOrderHandler(cfg.COD, cfg.Orders)
	if cfg.COD != nil {
		authed.POST("/orders/cod", limited(orders.PlaceCOD)...)
	}
	if cfg.Orders != nil {
		authed.GET("/orders/:id", orders.GetOrder)
	}

	return engine
}
