package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"positionbot/internal/models"
)

// NotificationRepository - журнал уведомлений в БД
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save сохраняет уведомление
func (r *NotificationRepository) Save(ctx context.Context, n *models.Notification) error {
	metaJSON, err := json.Marshal(n.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (timestamp, type, severity, user_id, position_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.UserID,
		n.PositionID,
		n.Message,
		metaJSON,
	).Scan(&n.ID)
}

// ListRecent возвращает последние уведомления пользователя
func (r *NotificationRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, position_id, message, meta
		FROM notifications
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var metaJSON []byte
		if err := rows.Scan(
			&n.ID,
			&n.Timestamp,
			&n.Type,
			&n.Severity,
			&n.UserID,
			&n.PositionID,
			&n.Message,
			&metaJSON,
		); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// DeleteOlderThan чистит старые уведомления
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < NOW() - ($1 || ' days')::INTERVAL`

	result, err := r.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
