// Package api exposes checkout, order, payment callback and session endpoints
// over HTTP and streams kitchen boards over WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/checkout"
	"order-fulfillment/internal/fulfillment/kitchen"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	ActiveOrders(ctx context.Context, branchID string) ([]models.Order, error)
	RecentOrders(ctx context.Context, branchID, search string, limit int) ([]models.Order, error)
	Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error)
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb payment.Callback) (*models.Order, bool, error)
}

type SessionStore interface {
	Load(ctx context.Context, sessionID string) (models.Selection, error)
	Save(ctx context.Context, sessionID string, sel models.Selection) (models.Selection, error)
	BranchID(ctx context.Context, sessionID string) (string, error)
}

type HistorySearcher interface {
	Search(ctx context.Context, branchID, text string, limit int) ([]models.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. History may be nil, in
// which case order history is served from the order store.
type Deps struct {
	Checkout  Checkouter
	Orders    OrderStore
	Payments  CallbackHandler
	Sessions  SessionStore
	History   HistorySearcher
	Publisher Publisher

	KitchenFeed    kitchen.Feed
	KitchenOptions kitchen.Options
	HistoryLimit   int

	ReadinessChecks map[string]Pinger

	// AllowedOrigins lists the browser origins of the storefront and kitchen
	// screens. Empty allows any origin.
	AllowedOrigins []string
}

type Server struct {
	router   *gin.Engine
	deps     Deps
	logger   logger.Logger
	upgrader *websocket.Upgrader
}

func NewServer(deps Deps, log logger.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		deps:     deps,
		logger:   logger.ForComponent(log, "api"),
		upgrader: newUpgrader(deps.AllowedOrigins),
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", sessionHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/checkout", s.handleCheckout)

		api.GET("/branches/:branchId/orders/active", s.handleActiveOrders)
		api.GET("/branches/:branchId/orders", s.handleOrderHistory)
		api.POST("/orders/:id/advance", s.handleAdvance)

		api.POST("/payments/mpesa/callback", s.handleMpesaCallback)

		api.GET("/sessions/:id/selection", s.handleGetSelection)
		api.PUT("/sessions/:id/selection", s.handlePutSelection)
	}

	s.router.GET("/ws/kitchen/:branchId", s.handleKitchenSocket)
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, p := range s.deps.ReadinessChecks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": checks})
}
