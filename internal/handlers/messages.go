package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/qased/internal/models"
	"github.com/4xmen/qased/internal/store"
	"github.com/4xmen/qased/internal/ws"
)

type MessageHandler struct {
	store *store.Store
	hub   *ws.Hub
}

func NewMessageHandler(st *store.Store, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{store: st, hub: hub}
}

type SendMessageRequest struct {
	ReceiverID int     `json:"receiver_id"`
	Content    string  `json:"content" binding:"required"`
	Kind       string  `json:"kind"`
	FileURL    *string `json:"file_url"`
	ReplyToID  *int    `json:"reply_to_id"`
}

type SendMessageByEmailRequest struct {
	Email     string  `json:"email" binding:"required"`
	Content   string  `json:"content" binding:"required"`
	Kind      string  `json:"kind"`
	FileURL   *string `json:"file_url"`
	ReplyToID *int    `json:"reply_to_id"`
}

// sendStatus maps a dispatch failure to an HTTP status code.
func sendStatus(err error) int {
	switch {
	case errors.Is(err, ws.ErrReceiverNotFound):
		return http.StatusNotFound
	case ws.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SendMessage persists and delivers a message over HTTP. It goes through the
// same pipeline as a realtime send, so connected receivers still get their
// new_message event.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	msg, err := h.hub.Dispatch(c.Request.Context(), userID.(int), ws.SendRequest{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Kind:       models.MessageKind(req.Kind),
		FileURL:    req.FileURL,
		ReplyToID:  req.ReplyToID,
	})
	if err != nil {
		status := sendStatus(err)
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": __("failed to send message")})
			return
		}
		c.JSON(status, gin.H{"error": __(err.Error())})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// SendMessageByEmail resolves the receiver by email address first, then
// dispatches like SendMessage.
func (h *MessageHandler) SendMessageByEmail(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	var req SendMessageByEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	receiver, err := h.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": __("receiver not found")})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch user")})
		return
	}

	msg, err := h.hub.Dispatch(c.Request.Context(), userID.(int), ws.SendRequest{
		ReceiverID: receiver.ID,
		Content:    req.Content,
		Kind:       models.MessageKind(req.Kind),
		FileURL:    req.FileURL,
		ReplyToID:  req.ReplyToID,
	})
	if err != nil {
		status := sendStatus(err)
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": __("failed to send message")})
			return
		}
		c.JSON(status, gin.H{"error": __(err.Error())})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// GetMessages retrieves message history with another user, oldest first,
// with page-based pagination metadata.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	otherIDStr := c.Query("user_id")
	if otherIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("user_id query parameter required")})
		return
	}
	otherID, err := strconv.Atoi(otherIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid user_id")})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	currentUserID := userID.(int)
	ctx := c.Request.Context()

	messages, err := h.store.ListMessagesBetween(ctx, currentUserID, otherID, limit, (page-1)*limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch messages")})
		return
	}

	total, err := h.store.CountMessagesBetween(ctx, currentUserID, otherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch messages")})
		return
	}

	for _, m := range messages {
		if err := h.store.Enrich(ctx, m, h.hub.IsUserOnline); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch messages")})
			return
		}
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"pagination": gin.H{
			"page":     page,
			"limit":    limit,
			"total":    total,
			"has_more": page*limit < total,
		},
	})
}

// GetConversations retrieves all conversations for the current user
func (h *MessageHandler) GetConversations(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	conversations, err := h.store.Conversations(c.Request.Context(), userID.(int))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch conversations")})
		return
	}

	// Stored presence may lag; the registry is authoritative.
	for _, conv := range conversations {
		conv.User.IsOnline = h.hub.IsUserOnline(conv.User.ID)
	}
	if conversations == nil {
		conversations = []*models.ConversationPreview{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// MarkAsRead marks a message as read. Only the receiver may do this; the
// sender gets a read receipt event on success.
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	readAt, err := h.hub.MarkRead(c.Request.Context(), userID.(int), messageID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": __("message not found")})
		case errors.Is(err, ws.ErrNotReceiver):
			c.JSON(http.StatusForbidden, gin.H{"error": __("cannot mark this message")})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to update message")})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "read", "read_at": readAt})
}

// DeleteMessage deletes a message (only sender can delete)
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	currentUserID := userID.(int)
	ctx := c.Request.Context()

	msg, err := h.store.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": __("message not found")})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch message")})
		return
	}
	if msg.SenderID != currentUserID {
		c.JSON(http.StatusForbidden, gin.H{"error": __("can only delete own messages")})
		return
	}

	if err := h.store.DeleteMessage(ctx, messageID, currentUserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to delete message")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
