package store

import (
	"context"
	"time"

	"github.com/zentrochat/zentro/internal/models"
)

// SavePushSubscription stores a subscription for userID. A known endpoint
// is re-bound to the caller and un-revoked.
func (s *Store) SavePushSubscription(ctx context.Context, userID string, sub models.PushSubscription, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth, now)
	if err != nil {
		return dbErr("save push subscription", err)
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL", userID)
	if err != nil {
		return nil, dbErr("fetch push subscriptions", err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			return nil, dbErr("scan push subscription", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		return dbErr("delete push subscription", err)
	}
	return nil
}
