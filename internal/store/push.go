package store

import (
	"context"
	"fmt"
)

// PushSubscription is a stored Web Push endpoint for one user.
type PushSubscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

func (s *Store) SavePushSubscription(ctx context.Context, userID int, sub PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id,
			p256dh = excluded.p256dh, auth = excluded.auth, revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *Store) RemovePushSubscription(ctx context.Context, userID int, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND endpoint = ?
	`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

func (s *Store) ActivePushSubscriptions(ctx context.Context, userID int) ([]PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, p256dh, auth FROM push_subscriptions
		WHERE user_id = ? AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	return err
}
