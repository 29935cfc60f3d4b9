package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/4xmen/qased/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, content, kind, file_url, reply_to_id,
	is_read, read_at, is_edited, edited_at, created_at, updated_at`

func scanMessage(scan func(dest ...interface{}) error) (*models.Message, error) {
	var m models.Message
	var kind string
	var fileURL sql.NullString
	var replyToID sql.NullInt64
	var readAt, editedAt sql.NullTime
	err := scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &fileURL, &replyToID,
		&m.IsRead, &readAt, &m.IsEdited, &editedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Kind = models.MessageKind(kind)
	if fileURL.Valid {
		m.FileURL = &fileURL.String
	}
	if replyToID.Valid {
		id := int(replyToID.Int64)
		m.ReplyToID = &id
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	return &m, nil
}

// CreateMessage appends a new message row and fills in the generated id and
// timestamps on m. Read/edit flags start cleared.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, kind, file_url, reply_to_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.SenderID, m.ReceiverID, m.Content, string(m.Kind), m.FileURL, m.ReplyToID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}

	m.ID = int(id)
	m.CreatedAt = now
	m.UpdatedAt = now
	m.IsRead = false
	m.ReadAt = nil
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, id int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

func (s *Store) MessageExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query message: %w", err)
	}
	return exists, nil
}

// ListMessagesBetween returns one page of the history between two users,
// oldest first within the page. Paging walks backwards from the newest row.
func (s *Store) ListMessagesBetween(ctx context.Context, userA, userB, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userA, userB, userB, userA, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) CountMessagesBetween(ctx context.Context, userA, userB int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
	`, userA, userB, userB, userA).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MarkMessageRead flips is_read once and stamps read_at. Returns the stamped
// time; calling again on an already-read message keeps the original stamp.
func (s *Store) MarkMessageRead(ctx context.Context, id int) (time.Time, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_read = 0
	`, now, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update message: %w", err)
	}

	var readAt sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT read_at FROM messages WHERE id = ?", id).Scan(&readAt); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, ErrMessageNotFound
		}
		return time.Time{}, fmt.Errorf("failed to query message: %w", err)
	}
	if readAt.Valid {
		return readAt.Time, nil
	}
	return now, nil
}

// DeleteMessage removes a message, sender only.
func (s *Store) DeleteMessage(ctx context.Context, id, senderID int) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id = ? AND sender_id = ?", id, senderID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Enrich populates sender/receiver display attributes and the reply target.
// The isOnline callback overrides the cached flag with live registry state.
func (s *Store) Enrich(ctx context.Context, m *models.Message, isOnline func(userID int) bool) error {
	sender, err := s.GetUserByID(ctx, m.SenderID)
	if err != nil {
		return err
	}
	receiver, err := s.GetUserByID(ctx, m.ReceiverID)
	if err != nil {
		return err
	}
	m.Sender = sender.Ref()
	m.Receiver = receiver.Ref()
	if isOnline != nil {
		m.Sender.IsOnline = isOnline(m.SenderID)
		m.Receiver.IsOnline = isOnline(m.ReceiverID)
	}

	if m.ReplyToID != nil {
		replyTo, err := s.GetMessageByID(ctx, *m.ReplyToID)
		if err == nil {
			m.ReplyTo = replyTo
		} else if err != ErrMessageNotFound {
			return err
		}
	}
	return nil
}
