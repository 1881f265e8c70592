package db

import (
	"context"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(id, user_id, kind, related_actor_id, related_status_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?) ON CONFLICT DO NOTHING`
	sqlDeleteNotification = `DELETE FROM notifications
		WHERE user_id = ? AND kind = ? AND related_actor_id = ? AND related_status_id = ?`
	sqlSelectNotifications = `SELECT id, user_id, kind, related_actor_id, related_status_id, read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlCountUnreadNotifications = `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`
)

// CreateNotification stores n. Notifications are unique over
// (user, kind, related actor, related status); a duplicate reports false.
func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	prepare(&n.Id, &n.CreatedAt)
	res, err := db.db.ExecContext(ctx, sqlInsertNotification, n.Id, n.UserId, string(n.Kind),
		nullableId(n.RelatedActorId), nullableId(n.RelatedStatusId), n.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteNotification removes the notification matching n's identifying fields.
func (db *DB) DeleteNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	res, err := db.db.ExecContext(ctx, sqlDeleteNotification, n.UserId, string(n.Kind),
		nullableId(n.RelatedActorId), nullableId(n.RelatedStatusId))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) ReadNotifications(ctx context.Context, userId uuid.UUID, limit int) ([]domain.Notification, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, userId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind string
		if err := rows.Scan(&n.Id, &n.UserId, &kind, &n.RelatedActorId, &n.RelatedStatusId, &n.Read, &n.CreatedAt); err != nil {
			return notifications, err
		}
		n.Kind = domain.NotificationKind(kind)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (db *DB) CountUnreadNotifications(ctx context.Context, userId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountUnreadNotifications, userId).Scan(&n)
	return n, err
}
