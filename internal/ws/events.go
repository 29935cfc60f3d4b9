package ws

import (
	"time"

	"github.com/4xmen/qased/internal/models"
)

// Inbound event names.
const (
	evtJoinConversation  = "join_conversation"
	evtLeaveConversation = "leave_conversation"
	evtSendMessage       = "send_message"
	evtTypingStart       = "typing_start"
	evtTypingStop        = "typing_stop"
	evtMarkRead          = "mark_read"
)

// Outbound event names.
const (
	evtNewMessage      = "new_message"
	evtMessageSent     = "message_sent"
	evtMessageError    = "message_error"
	evtTypingChanged   = "typing_changed"
	evtMessageRead     = "message_read"
	evtPresenceChanged = "presence_changed"
	evtOnlineUsers     = "online_users"
)

// envelope carries only the discriminator; the full frame is re-decoded
// into the variant matching Type.
type envelope struct {
	Type string `json:"type"`
}

type joinConversationEvent struct {
	ConversationKey string `json:"conversation_key"`
}

type sendMessageEvent struct {
	ReceiverID int     `json:"receiver_id"`
	Content    string  `json:"content"`
	Kind       string  `json:"kind"`
	FileURL    *string `json:"file_url"`
	ReplyToID  *int    `json:"reply_to_id"`
}

type typingEvent struct {
	ReceiverID      int    `json:"receiver_id"`
	ConversationKey string `json:"conversation_key"`
}

type markReadEvent struct {
	MessageID int `json:"message_id"`
}

type newMessageEvent struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

type messageSentEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	Status    string `json:"status"`
}

type messageErrorEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type typingChangedEvent struct {
	Type            string `json:"type"`
	SenderID        int    `json:"sender_id"`
	ConversationKey string `json:"conversation_key"`
	IsTyping        bool   `json:"is_typing"`
}

type messageReadEvent struct {
	Type      string    `json:"type"`
	MessageID int       `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}

type presenceChangedEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type onlineUsersEvent struct {
	Type    string `json:"type"`
	UserIDs []int  `json:"user_ids"`
}
