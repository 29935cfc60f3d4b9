package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/4xmen/qased/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

// Client is one live, authenticated connection. The user identity is fixed
// at upgrade time; event payloads never carry it.
type Client struct {
	id       string
	userID   int
	username string
	conn     *websocket.Conn
	hub      *Hub
	send     chan interface{}
	// conversation keys this connection joined, guarded by hub.mu
	rooms map[string]struct{}
}

// HandleWebSocket upgrades an authenticated request into a registered
// connection. Identity must already be on the gin context; requests that
// did not pass the auth gate are rejected here.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("websocket upgrade failed")})
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		userID:   userID.(int),
		username: username,
		conn:     conn,
		hub:      h,
		send:     make(chan interface{}, 256),
		rooms:    make(map[string]struct{}),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

// enqueue hands an event to the connection's writer without blocking; a
// slow consumer loses events rather than stalling the hub.
func (c *Client) enqueue(event interface{}) {
	select {
	case c.send <- event:
	default:
		log.Printf("ws: send buffer full for user %d conn=%s, dropping event", c.userID, c.id)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error for user %d: %v", c.userID, err)
			}
			break
		}
		c.handleEvent(data)
	}
}

// handleEvent decodes one inbound frame and routes it by type. Events run
// to completion in connection order; two frames from the same connection
// are never handled concurrently.
func (c *Client) handleEvent(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case evtJoinConversation:
		var evt joinConversationEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.ConversationKey == "" {
			return
		}
		c.hub.Join(c, evt.ConversationKey)

	case evtLeaveConversation:
		var evt joinConversationEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.ConversationKey == "" {
			return
		}
		c.hub.Leave(c, evt.ConversationKey)

	case evtSendMessage:
		var evt sendMessageEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.enqueue(&messageErrorEvent{Type: evtMessageError, Reason: __("invalid request")})
			return
		}
		c.handleSendMessage(evt)

	case evtTypingStart:
		var evt typingEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		c.relayTyping(evt, true)

	case evtTypingStop:
		var evt typingEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		c.relayTyping(evt, false)

	case evtMarkRead:
		var evt markReadEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		c.handleMarkRead(evt)
	}
}

func (c *Client) handleSendMessage(evt sendMessageEvent) {
	msg, err := c.hub.Dispatch(context.Background(), c.userID, SendRequest{
		ReceiverID: evt.ReceiverID,
		Content:    evt.Content,
		Kind:       models.MessageKind(evt.Kind),
		FileURL:    evt.FileURL,
		ReplyToID:  evt.ReplyToID,
	})
	if err != nil {
		if !IsValidationError(err) {
			log.Printf("ws: failed to dispatch message from user %d: %v", c.userID, err)
			err = errFailedToSend
		}
		c.enqueue(&messageErrorEvent{Type: evtMessageError, Reason: __(err.Error())})
		return
	}

	c.enqueue(&messageSentEvent{Type: evtMessageSent, MessageID: msg.ID, Status: "delivered"})
}

// relayTyping forwards a typing signal to the receiver's personal room.
// Nothing is persisted and a miss is not an error.
func (c *Client) relayTyping(evt typingEvent, isTyping bool) {
	if evt.ReceiverID == 0 || evt.ReceiverID == c.userID {
		return
	}
	c.hub.sendToUser(evt.ReceiverID, &typingChangedEvent{
		Type:            evtTypingChanged,
		SenderID:        c.userID,
		ConversationKey: evt.ConversationKey,
		IsTyping:        isTyping,
	})
}

func (c *Client) handleMarkRead(evt markReadEvent) {
	// Receipts from the wrong party or for unknown messages are dropped
	// without a reply; only store trouble is worth logging.
	_, err := c.hub.MarkRead(context.Background(), c.userID, evt.MessageID)
	if err != nil && !IsValidationError(err) {
		log.Printf("ws: failed to mark message %d read: %v", evt.MessageID, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
