package database

import (
	"fmt"
	"time"
)

// Comment is a user's reply to an announcement
type Comment struct {
	ID             int64     `db:"id" json:"id"`
	AnnouncementID int64     `db:"announcement_id" json:"announcement_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Comment        string    `db:"comment" json:"comment"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	Username       string    `db:"username" json:"username"`
}

// CreateComment inserts a comment. Username is not stored and is left as set by the caller.
func (db *DB) CreateComment(c *Comment) error {
	ts := now()
	result, err := db.Exec(`
		INSERT INTO comments (announcement_id, user_id, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.AnnouncementID, c.UserID, c.Comment, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get comment id: %w", err)
	}
	c.ID = id
	c.CreatedAt = ts
	c.UpdatedAt = ts
	return nil
}

// ListComments returns an announcement's comments, oldest first
func (db *DB) ListComments(announcementID int64) ([]*Comment, error) {
	var comments []*Comment
	err := db.Select(&comments, `
		SELECT c.id, c.announcement_id, c.user_id, c.comment, c.created_at, c.updated_at,
			u.username AS username
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.announcement_id = ?
		ORDER BY c.created_at, c.id
	`, announcementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}
