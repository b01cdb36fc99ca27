package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
)

// Handlers — набор хэндлеров, из которых собирается роутер.
type Handlers struct {
	Orders   *handlers.OrderHandler
	Disputes *handlers.DisputeHandler
	Ledger   *handlers.LedgerHandler
	Health   *handlers.HealthHandler
	WS       *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokens middleware.TokenParser, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if h.WS != nil {
		api.GET("/ws", h.WS.Handle)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))

	// Чтение не ограничиваем, изменяющие запросы идут через лимит на пользователя.
	mutating := protected.Group("/")
	mutating.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, rateLimitPeriod(cfg)))

	// Заказы
	{
		mutating.POST("/orders", h.Orders.CreateOrder)
		protected.GET("/orders/my", h.Orders.ListMyOrders)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), h.Orders.GetOrder)
		mutating.POST("/orders/:id/fund", middleware.UUIDValidator("id"), h.Orders.Fund)
		mutating.POST("/orders/:id/accept", middleware.UUIDValidator("id"), h.Orders.Accept)
		mutating.POST("/orders/:id/deliveries", middleware.UUIDValidator("id"), h.Orders.SubmitDelivery)
		protected.GET("/orders/:id/deliveries", middleware.UUIDValidator("id"), h.Orders.ListDeliveries)
		mutating.POST("/orders/:id/revision", middleware.UUIDValidator("id"), h.Orders.RequestRevision)
		mutating.POST("/orders/:id/accept-delivery", middleware.UUIDValidator("id"), h.Orders.AcceptDelivery)
		mutating.POST("/orders/:id/cancel", middleware.UUIDValidator("id"), h.Orders.Cancel)
		mutating.POST("/orders/:id/reconcile", middleware.UUIDValidator("id"), h.Orders.Reconcile)
		protected.GET("/orders/:id/history", middleware.UUIDValidator("id"), h.Orders.History)
	}

	// Журнал транзакций
	{
		protected.GET("/orders/:id/transactions", middleware.UUIDValidator("id"), h.Ledger.ListTransactions)
		protected.GET("/orders/:id/balance", middleware.UUIDValidator("id"), h.Ledger.GetBalance)
	}

	// Споры
	{
		mutating.POST("/orders/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.OpenDispute)
		protected.GET("/orders/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.GetOrderDispute)
		protected.GET("/disputes", h.Disputes.ListDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), h.Disputes.GetDispute)
		mutating.POST("/disputes/:id/respond", middleware.UUIDValidator("id"), h.Disputes.Respond)
		mutating.POST("/disputes/:id/evidence", middleware.UUIDValidator("id"), h.Disputes.SubmitEvidence)
		mutating.POST("/disputes/:id/messages", middleware.UUIDValidator("id"), h.Disputes.SendMessage)
		mutating.POST("/disputes/:id/resolution", middleware.UUIDValidator("id"), h.Disputes.ProposeResolution)
		mutating.POST("/disputes/:id/agree", middleware.UUIDValidator("id"), h.Disputes.Agree)
		mutating.POST("/disputes/:id/cancel", middleware.UUIDValidator("id"), h.Disputes.Cancel)
		mutating.POST("/disputes/:id/force", middleware.UUIDValidator("id"), h.Disputes.ForceExecute)
	}

	return r
}

func rateLimitPeriod(cfg *config.Config) time.Duration {
	if cfg.RateLimitPeriod <= 0 {
		return time.Minute
	}
	return cfg.RateLimitPeriod
}
