package database

import (
	"fmt"
	"time"
)

// NotificationLog represents a notification log entry
type NotificationLog struct {
	ID        int64     `db:"id"`
	EventType string    `db:"event_type"`
	Provider  string    `db:"provider"`
	Recipient string    `db:"recipient"`
	Title     string    `db:"title"`
	Status    string    `db:"status"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
}

// LogNotification records a delivery attempt
func (db *DB) LogNotification(entry *NotificationLog) error {
	if entry.Status == "" {
		entry.Status = "sent"
	}
	entry.CreatedAt = now()

	result, err := db.Exec(`
		INSERT INTO notification_log (event_type, provider, recipient, title, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.EventType, entry.Provider, entry.Recipient, entry.Title, entry.Status, entry.Error, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListNotificationLogs returns the most recent delivery attempts
func (db *DB) ListNotificationLogs(limit int) ([]*NotificationLog, error) {
	var logs []*NotificationLog
	err := db.Select(&logs, `
		SELECT id, event_type, provider, recipient, title, status, error, created_at
		FROM notification_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return logs, nil
}
