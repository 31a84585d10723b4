package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/service"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderLifecycle is the order service surface the handlers use
type OrderLifecycle interface {
	ChangeOrderStatus(ctx context.Context, orderID int64, target models.OrderStatus, opts service.ChangeOptions) (*models.Order, error)
	ChangeOrderItemStatus(ctx context.Context, orderID, itemID int64, target models.OrderStatus, opts service.ChangeOptions) (*service.ItemRollup, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
	AllowedTransitions(ctx context.Context, orderID int64) (models.OrderStatus, []models.OrderStatus, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
}

// Notifications lists and acknowledges user notifications
type Notifications interface {
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID int64) error
}

// WalletReader reads wallet balances
type WalletReader interface {
	GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error)
}

// RealtimeFeed streams a user's realtime notification payloads until closed
type RealtimeFeed interface {
	SubscribeUser(ctx context.Context, userID int64) (<-chan []byte, func(), error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders        OrderLifecycle
	notifications Notifications
	wallets       WalletReader
	feed          RealtimeFeed
	readiness     map[string]Pinger
	heartbeat     time.Duration
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderLifecycle, notifications Notifications, wallets WalletReader, feed RealtimeFeed, readiness map[string]Pinger) *Handler {
	return &Handler{
		orders:        orders,
		notifications: notifications,
		wallets:       wallets,
		feed:          feed,
		readiness:     readiness,
		heartbeat:     25 * time.Second,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.changeOrderStatus)
		v1.GET("/orders/:id/transitions", h.getTransitions)
		v1.GET("/orders/:id/history", h.getHistory)
		v1.PATCH("/orders/:id/items/:itemId/status", h.changeOrderItemStatus)

		v1.GET("/users/:id/notifications", h.listNotifications)
		v1.GET("/users/:id/notifications/stream", h.streamNotifications)
		v1.PATCH("/notifications/:id/read", h.markNotificationRead)

		v1.GET("/users/:id/wallet", h.getWallet)
	}
}

// StatusChangeRequest is the body of the status change endpoints
type StatusChangeRequest struct {
	Status  models.OrderStatus `json:"status" binding:"required"`
	Reason  string             `json:"reason,omitempty"`
	ActorID *int64             `json:"actor_id,omitempty"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// changeOrderStatus handles PATCH /orders/:id/status
func (h *Handler) changeOrderStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.ChangeOrderStatus(c.Request.Context(), orderID, req.Status, service.ChangeOptions{
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// changeOrderItemStatus handles PATCH /orders/:id/items/:itemId/status
func (h *Handler) changeOrderItemStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId")
	if !ok {
		return
	}

	var req StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rollup, err := h.orders.ChangeOrderItemStatus(c.Request.Context(), orderID, itemID, req.Status, service.ChangeOptions{
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item":                   rollup.Item,
		"seller_order":           rollup.SellerOrder,
		"order":                  rollup.Order,
		"seller_order_rolled_up": rollup.SellerOrderRolledUp,
		"order_rolled_up":        rollup.OrderChange != nil,
	})
}

// getTransitions handles GET /orders/:id/transitions
func (h *Handler) getTransitions(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	current, allowed, err := h.orders.AllowedTransitions(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"current":  current,
		"allowed":  allowed,
	})
}

// getHistory handles GET /orders/:id/history
func (h *Handler) getHistory(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	history, err := h.orders.GetOrderHistory(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// listNotifications handles GET /users/:id/notifications
func (h *Handler) listNotifications(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit",
		})
		return
	}
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.notifications.ListNotifications(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// markNotificationRead handles PATCH /notifications/:id/read
func (h *Handler) markNotificationRead(c *gin.Context) {
	notificationID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), notificationID); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// streamNotifications relays realtime pushes as server-sent events
func (h *Handler) streamNotifications(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	messages, closeFeed, err := h.feed.SubscribeUser(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFeed()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case payload, open := <-messages:
			if !open {
				return false
			}
			c.SSEvent("notification", string(payload))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// getWallet handles GET /users/:id/wallet
func (h *Handler) getWallet(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	wallet, err := h.wallets.GetWalletByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + param,
		})
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrConcurrentUpdate):
		code = http.StatusConflict
	case errors.Is(err, service.ErrBusinessRule), errors.Is(err, service.ErrInsufficientFunds):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidStatus):
		code = http.StatusBadRequest
	}

	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(code, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(code, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
