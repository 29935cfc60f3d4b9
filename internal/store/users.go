package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/qased/internal/models"
)

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var avatarURL sql.NullString
	var lastSeen sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &avatarURL, &u.IsOnline, &lastSeen, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if avatarURL.Valid {
		u.AvatarURL = &avatarURL.String
	}
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return &u, nil
}

const userColumns = "id, username, email, avatar_url, is_online, last_seen, created_at"

func (s *Store) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByEmail looks a user up by email, case-insensitively. Emails are
// stored lowercase, so the argument is normalized rather than the column.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *Store) UserExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// SearchUsers returns users other than excludeID whose username or email
// matches the query. An empty query lists everyone else.
func (s *Store) SearchUsers(ctx context.Context, excludeID int, query string, limit int) ([]*models.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	query = strings.TrimSpace(query)
	if query != "" {
		pattern := "%" + query + "%"
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+userColumns+` FROM users
			WHERE id != ? AND (username LIKE ? OR email LIKE ?)
			ORDER BY username LIMIT ?
		`, excludeID, pattern, pattern, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE id != ? ORDER BY username LIMIT ?",
			excludeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		var avatarURL sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &avatarURL, &u.IsOnline, &lastSeen, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if avatarURL.Valid {
			u.AvatarURL = &avatarURL.String
		}
		if lastSeen.Valid {
			u.LastSeen = &lastSeen.Time
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SetOnline updates the cached presence columns. The authoritative value
// lives in the realtime registry; this is what survives a restart.
func (s *Store) SetOnline(ctx context.Context, userID int, online bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = ?, last_seen = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, online, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID int, avatarURL *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET avatar_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, avatarURL, userID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}
