// Package httptransport exposes the payment saga over HTTP.
package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Spaces-Place/space-place-payment/internal/observability"
	"github.com/Spaces-Place/space-place-payment/internal/payment"
	"github.com/Spaces-Place/space-place-payment/internal/realtime"
)

var errInternal = errors.New("internal error")

// PaymentService is the saga surface the transport drives.
type PaymentService interface {
	Ready(ctx context.Context, req payment.ReadyRequest, ident payment.Identity, bearer string) (string, error)
	Approve(ctx context.Context, orderNumber, pgToken string, ident payment.Identity) (payment.Order, error)
	Fail(ctx context.Context, orderNumber string) (payment.Order, error)
	Cancel(ctx context.Context, orderNumber, bearer string) (payment.Order, error)
	List(ctx context.Context, userID string, skip, limit int) ([]payment.Order, error)
}

// TokenAuthenticator resolves bearer credentials to requester identities.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (payment.Identity, error)
}

// Handler holds the HTTP handlers for the payment endpoints.
type Handler struct {
	service  PaymentService
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. hub may be nil to disable the live feed.
func NewHandler(service PaymentService, hub *realtime.Hub) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RouterConfig wires the middleware stack around the handlers.
type RouterConfig struct {
	Service     PaymentService
	Auth        TokenAuthenticator
	Hub         *realtime.Hub
	Metrics     *observability.Metrics
	RateLimiter *payment.RateLimiter
	ServiceName string
}

// NewRouter builds the gin engine with all payment routes mounted under
// /api/v1/payments.
func NewRouter(cfg RouterConfig) *gin.Engine {
	h := NewHandler(cfg.Service, cfg.Hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(RequestMetrics(cfg.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.Handler(cfg.Metrics)))

	api := r.Group("/api/v1/payments")
	if cfg.RateLimiter != nil {
		api.Use(RateLimit(cfg.RateLimiter, cfg.Metrics))
	}
	api.Use(BearerAuth(cfg.Auth))

	api.POST("/kakao", h.Ready)
	api.GET("/kakao/approval", h.Approve)
	api.POST("/kakao/fail", h.Fail)
	api.POST("/kakao/cancel", h.Cancel)
	api.GET("", h.List)
	api.GET("/events", h.Events)

	return r
}

// Ready starts the saga and answers with the gateway redirect target.
func (h *Handler) Ready(c *gin.Context) {
	var req payment.ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "space_id is required"})
		return
	}

	ident, bearer := requester(c)
	redirect, err := h.service.Ready(c.Request.Context(), req, ident, bearer)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"redirect_url": redirect})
}

// Approve confirms the saga from the gateway redirect.
func (h *Handler) Approve(c *gin.Context) {
	orderNumber := c.Query("order_number")
	pgToken := c.Query("pg_token")
	if orderNumber == "" || pgToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_number and pg_token are required"})
		return
	}

	ident, _ := requester(c)
	if _, err := h.service.Approve(c.Request.Context(), orderNumber, pgToken, ident); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "reservation and payment completed",
		"order_number": orderNumber,
	})
}

type orderNumberRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
}

// Fail marks the saga failed after a gateway failure redirect.
func (h *Handler) Fail(c *gin.Context) {
	var req orderNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_number is required"})
		return
	}

	if _, err := h.service.Fail(c.Request.Context(), req.OrderNumber); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reservation and payment failed"})
}

// Cancel marks the saga canceled on user request.
func (h *Handler) Cancel(c *gin.Context) {
	var req orderNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_number is required"})
		return
	}

	_, bearer := requester(c)
	if _, err := h.service.Cancel(c.Request.Context(), req.OrderNumber, bearer); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reservation and payment canceled"})
}

// List returns the caller's own payment records.
func (h *Handler) List(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	ident, _ := requester(c)
	records, err := h.service.List(c.Request.Context(), ident.UserID, skip, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []payment.Order{}
	}

	c.JSON(http.StatusOK, gin.H{"payments": records})
}

// Events upgrades to a WebSocket feed of outcome events.
func (h *Handler) Events(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live events disabled"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	h.hub.Register(conn)
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
