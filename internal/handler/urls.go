package handlers

import (
	"safevoice/internal/dispatch"
	"safevoice/internal/emergency"
	"safevoice/internal/propagation"
	"safevoice/internal/telemetry"
	"safevoice/pkg/config"
	"safevoice/pkg/middleware"
	"safevoice/pkg/sse"
	"safevoice/pkg/store"
	"safevoice/pkg/websocket"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	store      store.Store
	manager    *emergency.Manager
	tracker    *telemetry.Tracker
	dispatcher *dispatch.Dispatcher
	broker     *propagation.Broker
	sseHub     *sse.Hub
	wsHub      *websocket.Hub
}

func NewHandlers(st store.Store, mgr *emergency.Manager, tr *telemetry.Tracker,
	d *dispatch.Dispatcher, broker *propagation.Broker, sseHub *sse.Hub, wsHub *websocket.Hub) *Handlers {
	return &Handlers{
		store:      st,
		manager:    mgr,
		tracker:    tr,
		dispatcher: d,
		broker:     broker,
		sseHub:     sseHub,
		wsHub:      wsHub,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: config.GlobalConfig.RateLimit,
		PerRouteRates: map[string]string{
			"/api/track/:id": "60-M",
		},
		SkipPaths:  []string{"/health", "/metrics"},
		AddHeaders: true,
	}, nil).WithObserver(middleware.DefaultObserver())

	r := engine.Group("/api")
	r.Use(limiter.Middleware())

	h.registerEmergencyRoutes(r)
	h.registerUserRoutes(r)
	h.registerTrackRoutes(r)

	r.POST("/alerts", h.handleDispatchAlerts)
	r.GET("/ws", h.handleFleetFeed)

	engine.GET("/health", h.HealthCheck)
}

func (h *Handlers) registerEmergencyRoutes(r *gin.RouterGroup) {
	em := r.Group("/emergency")
	{
		em.POST("/trigger", middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{}), h.handleTrigger)

		em.POST("/:id/resolve", h.handleResolve)

		em.GET("/active", h.handleFleetView)

		em.GET("/user/:userId/active", h.handleActiveForUser)

		em.POST("/:id/location", h.handleIngestLocation)

		em.GET("/:id/locations", h.handleLocationHistory)
	}
}

func (h *Handlers) registerUserRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.handleCreateUser)

		users.POST("/:id/contacts", h.handleAddContact)

		users.PUT("/:id", h.handleUpdateUser)
	}
}

func (h *Handlers) registerTrackRoutes(r *gin.RouterGroup) {
	track := r.Group("/track")
	{
		track.GET("/:id", h.handleTrack)

		track.GET("/:id/stream", h.handleTrackStream)
	}
}
