package models

import "time"

// MessageKind classifies message content.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

type User struct {
	ID        int        `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// UserRef carries the display attributes embedded in enriched message events.
type UserRef struct {
	ID        int     `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	IsOnline  bool    `json:"is_online"`
}

func (u *User) Ref() *UserRef {
	return &UserRef{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
	}
}

type Message struct {
	ID         int         `json:"id"`
	SenderID   int         `json:"sender_id"`
	ReceiverID int         `json:"receiver_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	FileURL    *string     `json:"file_url,omitempty"`
	ReplyToID  *int        `json:"reply_to_id,omitempty"`
	IsRead     bool        `json:"is_read"`
	ReadAt     *time.Time  `json:"read_at,omitempty"`
	IsEdited   bool        `json:"is_edited"`
	EditedAt   *time.Time  `json:"edited_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// Populated for enriched events and API responses, never stored.
	Sender   *UserRef `json:"sender,omitempty"`
	Receiver *UserRef `json:"receiver,omitempty"`
	ReplyTo  *Message `json:"reply_to,omitempty"`
}

// ConversationPreview is the derived read-model row for the conversation
// list: one counterpart per row, aggregated at query time.
type ConversationPreview struct {
	User        *UserRef   `json:"user"`
	LastMessage *Message   `json:"last_message"`
	UnreadCount int        `json:"unread_count"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}
