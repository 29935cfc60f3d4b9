package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/4xmen/qased/internal/models"
)

// Conversations builds the derived conversation list for one user: every
// counterpart they have exchanged messages with, the newest message per
// pair and the count of rows still unread by userID. Nothing here is
// cached durably; the list is recomputed from the message log on each call.
func (s *Store) Conversations(ctx context.Context, userID int) ([]*models.ConversationPreview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	type aggregate struct {
		last   *models.Message
		unread int
	}
	byCounterpart := make(map[int]*aggregate)

	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		other := m.SenderID
		if other == userID {
			other = m.ReceiverID
		}

		agg, ok := byCounterpart[other]
		if !ok {
			// Rows arrive newest-first, so the first row per pair is the
			// last message of that conversation.
			agg = &aggregate{last: m}
			byCounterpart[other] = agg
		}
		if m.ReceiverID == userID && !m.IsRead {
			agg.unread++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	previews := make([]*models.ConversationPreview, 0, len(byCounterpart))
	for otherID, agg := range byCounterpart {
		other, err := s.GetUserByID(ctx, otherID)
		if err != nil {
			if err == ErrUserNotFound {
				continue
			}
			return nil, err
		}
		previews = append(previews, &models.ConversationPreview{
			User:        other.Ref(),
			LastMessage: agg.last,
			UnreadCount: agg.unread,
			LastSeen:    other.LastSeen,
		})
	}

	sort.Slice(previews, func(i, j int) bool {
		return previews[i].LastMessage.CreatedAt.After(previews[j].LastMessage.CreatedAt)
	})
	return previews, nil
}
