// Package api exposes the operator HTTP surface: order entry and cancels,
// stored lifecycle history, positions and account snapshots.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"venue-gateway/internal/events"
	"venue-gateway/internal/gateway"
	"venue-gateway/internal/monitor"
	"venue-gateway/pkg/db"
)

// Server wires HTTP endpoints around the venue registry and the store.
type Server struct {
	Router    *gin.Engine
	Registry  *gateway.Registry
	Queries   *db.Queries
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
}

func NewServer(registry *gateway.Registry, queries *db.Queries, bus *events.Bus, metrics *monitor.Metrics, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))

	s := &Server{
		Router:    r,
		Registry:  registry,
		Queries:   queries,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.POST("/orders", s.submitOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:clientOrderID", s.getOrder)
		api.GET("/orders/:clientOrderID/fills", s.getOrderFills)
		api.DELETE("/orders/:clientOrderID", s.cancelOrder)
		api.DELETE("/orders", s.cancelAllOrders)

		api.GET("/positions", s.getPositions)
		api.GET("/account", s.getAccount)
		api.GET("/metrics", s.getMetrics)

		api.GET("/ws", s.streamEvents)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"venues":         s.Registry.Status(),
		"dropped_events": s.Bus.Dropped(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
