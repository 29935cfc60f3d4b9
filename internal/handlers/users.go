package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/qased/internal/models"
	"github.com/4xmen/qased/internal/store"
	"github.com/4xmen/qased/internal/ws"
)

type UserHandler struct {
	store *store.Store
	hub   *ws.Hub
}

func NewUserHandler(st *store.Store, hub *ws.Hub) *UserHandler {
	return &UserHandler{store: st, hub: hub}
}

// GetUsers retrieves a list of all users except current user, optionally
// filtered by search query
func (h *UserHandler) GetUsers(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	query := strings.TrimSpace(c.Query("q"))

	users, err := h.store.SearchUsers(c.Request.Context(), userID.(int), query, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch users")})
		return
	}

	refs := make([]*models.UserRef, 0, len(users))
	for _, u := range users {
		ref := u.Ref()
		ref.IsOnline = h.hub.IsUserOnline(u.ID)
		refs = append(refs, ref)
	}

	c.JSON(http.StatusOK, refs)
}

// GetUserByEmail looks a user up by their email address.
func (h *UserHandler) GetUserByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Param("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("email required")})
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": __("user not found")})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch user")})
		return
	}

	ref := user.Ref()
	ref.IsOnline = h.hub.IsUserOnline(user.ID)
	c.JSON(http.StatusOK, gin.H{
		"id":         ref.ID,
		"username":   ref.Username,
		"avatar_url": ref.AvatarURL,
		"is_online":  ref.IsOnline,
		"last_seen":  user.LastSeen,
	})
}

// GetMyProfile returns the current user's profile
func (h *UserHandler) GetMyProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), userID.(int))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch profile")})
		return
	}

	user.IsOnline = h.hub.IsUserOnline(user.ID)
	c.JSON(http.StatusOK, user)
}

// UpdateProfile updates the current user's profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	var req struct {
		AvatarURL *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.UpdateProfile(c.Request.Context(), userID.(int), req.AvatarURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to update profile")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated", "avatar_url": req.AvatarURL})
}
