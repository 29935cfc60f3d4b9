package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/qased/internal/push"
	"github.com/4xmen/qased/internal/store"
)

type PushHandler struct {
	store    *store.Store
	notifier *push.Notifier
}

func NewPushHandler(st *store.Store, notifier *push.Notifier) *PushHandler {
	return &PushHandler{store: st, notifier: notifier}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Subscribe registers a browser push subscription for the current user.
func (h *PushHandler) Subscribe(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	sub := store.PushSubscription{
		Endpoint:  req.Endpoint,
		KeyP256dh: req.Keys.P256dh,
		KeyAuth:   req.Keys.Auth,
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), userID.(int), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to save subscription")})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

// Unsubscribe revokes a subscription endpoint for the current user.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.RemovePushSubscription(c.Request.Context(), userID.(int), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to remove subscription")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
}

// VAPIDKey returns the server's public VAPID key, or 404 when push is not
// configured.
func (h *PushHandler) VAPIDKey(c *gin.Context) {
	key := h.notifier.VAPIDPublicKey()
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": __("push notifications are not configured")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": key})
}
