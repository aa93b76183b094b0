package database

import (
	"fmt"
	"time"
)

// Session represents a login session stored in the database.
type Session struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// CreateSession inserts a new session record.
func (db *DB) CreateSession(id string, userID int64, expiresAt time.Time) (*Session, error) {
	ts := now()
	_, err := db.Exec(`
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, id, userID, expiresAt.UTC(), ts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: ts,
	}, nil
}

// GetSession retrieves a session by ID.
func (db *DB) GetSession(id string) (*Session, error) {
	session := &Session{}
	found, err := db.getOne(session, `
		SELECT id, user_id, expires_at, created_at
		FROM sessions WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return session, nil
}

// DeleteSession removes a session by ID.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ExtendSession updates a session's expiration time.
func (db *DB) ExtendSession(id string, expiresAt time.Time) error {
	_, err := db.Exec("UPDATE sessions SET expires_at = ? WHERE id = ?", expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before the given time
func (db *DB) DeleteExpiredSessions(before time.Time) (int64, error) {
	result, err := db.Exec("DELETE FROM sessions WHERE expires_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
