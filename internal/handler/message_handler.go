package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/service"
)

// MessageHandler handles message and bell-notification HTTP requests
type MessageHandler struct {
	messages *service.MessageService
	delivery *service.DeliveryService
	logger   *zap.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messages *service.MessageService, delivery *service.DeliveryService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		delivery: delivery,
		logger:   logger,
	}
}

// recipientID reads the acting user id forwarded by the gateway after
// authentication.
func recipientID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// Deliver handles a trio delivery request
// POST /api/v1/messages
func (h *MessageHandler) Deliver(c *gin.Context) {
	var req model.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.delivery.Deliver(c.Request.Context(), req)
	if err != nil {
		if model.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Delivery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deliver message"})
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// GetSystemMessages lists the caller's system-message view
// GET /api/v1/system-messages
func (h *MessageHandler) GetSystemMessages(c *gin.Context) {
	uid := recipientID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user id"})
		return
	}

	messages, err := h.messages.GetSystemMessages(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to list system messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get system messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetBellNotifications lists the caller's bell dropdown
// GET /api/v1/notifications
func (h *MessageHandler) GetBellNotifications(c *gin.Context) {
	uid := recipientID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user id"})
		return
	}

	notifications, err := h.messages.GetBellNotifications(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to list bell notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// GetUnreadCounts returns the caller's per-view unread totals
// GET /api/v1/notifications/unread-counts
func (h *MessageHandler) GetUnreadCounts(c *gin.Context) {
	uid := recipientID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user id"})
		return
	}

	counts, err := h.messages.UnreadCounts(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to get unread counts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get unread counts"})
		return
	}

	c.JSON(http.StatusOK, counts)
}

// MarkRead marks a message read in both views, regardless of which view the
// caller read it in.
// PATCH /api/v1/system-messages/:id/read
// PATCH /api/v1/notifications/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	h.mutate(c, h.messages.MarkReadEverywhere, "Failed to mark message as read")
}

// DeleteFromSystem hides a message from the caller's system view
// DELETE /api/v1/system-messages/:id
func (h *MessageHandler) DeleteFromSystem(c *gin.Context) {
	h.mutate(c, h.messages.DeleteFromSystem, "Failed to delete message")
}

// RemoveFromBell hides a message from the caller's bell dropdown
// DELETE /api/v1/notifications/:id
func (h *MessageHandler) RemoveFromBell(c *gin.Context) {
	h.mutate(c, h.messages.RemoveFromBell, "Failed to remove notification")
}

// GetRecipientState returns the caller's state entry for one message
// GET /api/v1/messages/:id/state
func (h *MessageHandler) GetRecipientState(c *gin.Context) {
	uid := recipientID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user id"})
		return
	}

	state, err := h.messages.GetRecipientState(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		h.respondMutationError(c, err, "Failed to get recipient state")
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *MessageHandler) mutate(
	c *gin.Context,
	op func(ctx context.Context, messageID, recipientID string) error,
	failureMessage string,
) {
	uid := recipientID(c)
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user id"})
		return
	}

	if err := op(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.respondMutationError(c, err, failureMessage)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) respondMutationError(c *gin.Context, err error, failureMessage string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case errors.Is(err, model.ErrRecipientNotTargeted):
		c.JSON(http.StatusForbidden, gin.H{"error": "Message was not addressed to this user"})
	default:
		h.logger.Error(failureMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": failureMessage})
	}
}
