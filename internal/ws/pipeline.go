package ws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/4xmen/qased/internal/models"
	"github.com/4xmen/qased/internal/store"
)

// Validation outcomes of the dispatch pipeline. Anything else coming out of
// Dispatch is a persistence failure.
var (
	ErrSelfMessage      = errors.New("cannot send message to yourself")
	ErrEmptyContent     = errors.New("message content required")
	ErrContentTooLong   = errors.New("message content too long")
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrReplyNotFound    = errors.New("reply target not found")
	ErrNotReceiver      = errors.New("cannot mark this message")
)

// errFailedToSend is what clients see in place of store error details.
var errFailedToSend = errors.New("failed to send message")

// IsValidationError reports whether a Dispatch/MarkRead error is a request
// problem rather than a store problem.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrSelfMessage) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrContentTooLong) ||
		errors.Is(err, ErrReceiverNotFound) ||
		errors.Is(err, ErrReplyNotFound) ||
		errors.Is(err, ErrNotReceiver) ||
		errors.Is(err, store.ErrMessageNotFound)
}

// SendRequest is a validated-to-be send intent. The sender id always comes
// from the authenticated context of the caller, never from a payload.
type SendRequest struct {
	ReceiverID int
	Content    string
	Kind       models.MessageKind
	FileURL    *string
	ReplyToID  *int
}

// Dispatch runs one send attempt through the pipeline: validate, persist,
// fan out, and hand back the enriched message for the caller to acknowledge.
// Nothing is written on a validation failure, and nothing is fanned out
// unless the store write succeeded. Both the realtime layer and the HTTP
// layer send through here.
func (h *Hub) Dispatch(ctx context.Context, senderID int, req SendRequest) (*models.Message, error) {
	if req.ReceiverID == senderID {
		return nil, ErrSelfMessage
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > h.maxMessageRunes {
		return nil, ErrContentTooLong
	}

	kind := req.Kind
	if kind == "" {
		kind = models.KindText
	}
	switch kind {
	case models.KindText, models.KindImage, models.KindFile:
	default:
		kind = models.KindText
	}

	exists, err := h.store.UserExists(ctx, req.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if !exists {
		return nil, ErrReceiverNotFound
	}

	if req.ReplyToID != nil {
		replyExists, err := h.store.MessageExists(ctx, *req.ReplyToID)
		if err != nil {
			return nil, fmt.Errorf("failed to send message: %w", err)
		}
		if !replyExists {
			return nil, ErrReplyNotFound
		}
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    content,
		Kind:       kind,
		FileURL:    req.FileURL,
		ReplyToID:  req.ReplyToID,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := h.store.Enrich(ctx, msg, h.IsUserOnline); err != nil {
		// The row exists; deliver what we have rather than drop the fan-out.
		msg.Sender = &models.UserRef{ID: senderID, IsOnline: true}
		msg.Receiver = &models.UserRef{ID: req.ReceiverID, IsOnline: h.IsUserOnline(req.ReceiverID)}
	}

	h.fanOutNewMessage(RoomKeyFor(senderID, req.ReceiverID), req.ReceiverID,
		&newMessageEvent{Type: evtNewMessage, Message: msg})

	if !h.IsUserOnline(req.ReceiverID) && msg.Sender != nil {
		h.notifier.NotifyNewMessage(req.ReceiverID, msg.Sender.Username)
	}

	return msg, nil
}

// MarkRead runs a read receipt through its pipeline: the requester must be
// the message's receiver, the flip is persisted before anyone hears about
// it, and the sender's personal room is notified.
func (h *Hub) MarkRead(ctx context.Context, requesterID, messageID int) (time.Time, error) {
	msg, err := h.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return time.Time{}, err
	}
	if msg.ReceiverID != requesterID {
		return time.Time{}, ErrNotReceiver
	}

	readAt, err := h.store.MarkMessageRead(ctx, messageID)
	if err != nil {
		return time.Time{}, err
	}

	h.sendToUser(msg.SenderID, &messageReadEvent{Type: evtMessageRead, MessageID: messageID, ReadAt: readAt})
	return readAt, nil
}

func keyContains(conversationKey string, userID int) bool {
	a, b, ok := strings.Cut(conversationKey, "_")
	if !ok {
		return false
	}
	id := strconv.Itoa(userID)
	return a == id || b == id
}
