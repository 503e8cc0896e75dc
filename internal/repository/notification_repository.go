package repository

import (
	"context"
	"database/sql"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// NotificationRepo persists in-app notification rows.  The dispatcher
// writes here first; email and push are best-effort afterwards.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a new NotificationRepo bound to the
// given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Create inserts a notification and populates the generated id.
func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	const ins = `INSERT INTO notifications (user_id, kind, title, message, data, link)
                 VALUES (?, ?, ?, ?, ?, ?)`
	res, err := q(ctx, r.db).ExecContext(ctx, ins,
		n.UserID, n.Kind, n.Title, n.Message, n.Data, n.Link)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint64(id)
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const sel = `SELECT id, user_id, kind, title, message, data, link, read_at, created_at
                 FROM notifications WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := q(ctx, r.db).QueryContext(ctx, sel, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		var uid sql.NullInt64
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &uid, &n.Kind, &n.Title, &n.Message, &n.Data, &n.Link, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			v := uint64(uid.Int64)
			n.UserID = &v
		}
		n.ReadAt = nullTimePtr(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
