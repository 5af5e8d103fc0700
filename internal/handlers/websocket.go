package handlers

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"realtycrm/internal/crm"
	"realtycrm/internal/middleware"
	"realtycrm/internal/services"
)

const (
	feedReadTimeout  = 90 * time.Second
	feedPingInterval = 30 * time.Second
	feedWriteTimeout = 10 * time.Second
)

// PipelineFeedHandler streams record events to websocket clients
type PipelineFeedHandler struct {
	connManager *services.ConnectionManager
	metrics     *services.Metrics
}

func NewPipelineFeedHandler(connManager *services.ConnectionManager, metrics *services.Metrics) *PipelineFeedHandler {
	return &PipelineFeedHandler{connManager: connManager, metrics: metrics}
}

// Upgrade rejects plain HTTP requests and carries the caller and the
// requested kinds (?kinds=lead,visit) into the websocket handler
func (h *PipelineFeedHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	var kinds []crm.EntityKind
	for _, raw := range strings.Split(c.Query("kinds"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		kind, err := crm.ParseKind(raw)
		if err != nil {
			return respondError(c, err)
		}
		kinds = append(kinds, kind)
	}
	c.Locals("feed_kinds", kinds)
	return c.Next()
}

// Handle runs one feed connection until the client goes away
// GET /ws/pipeline
func (h *PipelineFeedHandler) Handle(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	kinds, _ := c.Locals("feed_kinds").([]crm.EntityKind)

	sub := services.NewSubscriber(uuid.NewString(), userID, kinds...)
	h.connManager.Add(sub)
	log.Printf("🔌 [FEED] %s connected (user %s, kinds %v)", sub.ID, userID, kinds)

	done := make(chan struct{})
	var writeMu sync.Mutex
	defer func() {
		close(done)
		h.connManager.Remove(sub.ID)
	}()

	c.SetReadDeadline(time.Now().Add(feedReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	go h.writeLoop(c, sub, &writeMu, done)

	writeMu.Lock()
	err := c.WriteJSON(fiber.Map{"type": "connected", "subscriberId": sub.ID})
	writeMu.Unlock()
	if err != nil {
		return
	}

	// the client only sends pings; reading keeps the pong handler running
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(feedReadTimeout))
		h.metrics.RecordWebSocketMessage("ping", "inbound")
	}
}

// writeLoop forwards queued events and keeps the connection alive
func (h *PipelineFeedHandler) writeLoop(c *websocket.Conn, sub *services.Subscriber, writeMu *sync.Mutex, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in feed writeLoop: %v", r)
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Send:
			if !ok {
				return
			}
			writeMu.Lock()
			c.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			err := c.WriteJSON(event)
			writeMu.Unlock()
			if err != nil {
				log.Printf("❌ [FEED] Write error for %s: %v", sub.ID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteTimeout))
			writeMu.Unlock()
			if err != nil {
				log.Printf("⚠️ [FEED] Ping failed for %s: %v", sub.ID, err)
				c.Close()
				return
			}
		}
	}
}
