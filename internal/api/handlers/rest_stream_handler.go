package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/realtime"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const streamHeartbeat = 25 * time.Second

// MessageFeed is an open subscription; realtime.Subscription implements it.
type MessageFeed interface {
	Messages() <-chan *models.Message
	Close()
}

// MessageSubscriber opens live message feeds.
type MessageSubscriber interface {
	Subscribe(ctx context.Context, userID utils.SixID, admin bool) (MessageFeed, error)
}

// HubSubscriber adapts a realtime.Hub to MessageSubscriber.
type HubSubscriber struct {
	Hub *realtime.Hub
}

func (s HubSubscriber) Subscribe(ctx context.Context, userID utils.SixID, admin bool) (MessageFeed, error) {
	sub, err := s.Hub.Subscribe(ctx, userID, admin)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RestStreamHandler pushes new chat messages to the browser as server-sent events.
type RestStreamHandler struct {
	hub MessageSubscriber
}

func NewRestStreamHandler(hub MessageSubscriber) *RestStreamHandler {
	return &RestStreamHandler{hub: hub}
}

// StreamMessages handles GET /v1/messages/stream. Clients receive their own
// conversations, administrators receive every message. The feed ends when the
// client disconnects.
func (h *RestStreamHandler) StreamMessages(c *gin.Context) {
	sess := currentSession(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
		return
	}
	ctx := c.Request.Context()
	sub, err := h.hub.Subscribe(ctx, sess.UserID, sess.IsAdmin)
	if err != nil {
		logger.Errorf("Failed to open message stream for %s: %v", sess.UserID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates unavailable"})
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": sess.UserID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Unix())
			return true
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			c.SSEvent("message", msg)
			return true
		}
	})
}
