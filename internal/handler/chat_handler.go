package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"RoastMedia/internal/service"
)

type ChatHandler interface {
	ListConversations(c *gin.Context)
	GetThread(c *gin.Context)
	MarkSeen(c *gin.Context)
	DeleteConversation(c *gin.Context)
	ClearConversation(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(service service.ChatService) ChatHandler {
	return &chatHandler{
		service: service,
	}
}

func (h *chatHandler) ListConversations(c *gin.Context) {
	conversations, err := h.service.ListConversations(c.Request.Context(), currentUser(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
	})
}

func (h *chatHandler) GetThread(c *gin.Context) {
	otherID := c.Param("userId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return
	}

	thread, err := h.service.GetThread(c.Request.Context(), currentUser(c), otherID, pageNumber)
	if err != nil {
		if errors.Is(err, service.ErrBadInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, thread)
}

type markSeenRequest struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	MessageIDs     []string `json:"messageIds" binding:"required"`
}

func (h *chatHandler) MarkSeen(c *gin.Context) {
	var req markSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	err := h.service.MarkSeen(c.Request.Context(), currentUser(c), req.ConversationID, req.MessageIDs)
	if err != nil {
		if errors.Is(err, service.ErrBadInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark seen"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *chatHandler) DeleteConversation(c *gin.Context) {
	err := h.service.DeleteConversation(c.Request.Context(), currentUser(c), c.Param("conversationId"))
	if err != nil {
		h.writeModerationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *chatHandler) ClearConversation(c *gin.Context) {
	err := h.service.ClearConversation(c.Request.Context(), currentUser(c), c.Param("conversationId"))
	if err != nil {
		h.writeModerationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *chatHandler) writeModerationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
