package database

import (
	"fmt"
	"time"
)

// Announcement is a message posted to a course's enrolled students
type Announcement struct {
	ID           int64     `db:"id"`
	CourseID     int64     `db:"course_id"`
	Title        string    `db:"title"`
	Content      string    `db:"content"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	CommentCount int       `db:"comment_count"`
}

func (a *Announcement) String() string {
	return a.Title
}

const announcementSelect = `
	SELECT a.id, a.course_id, a.title, a.content, a.created_at, a.updated_at,
		(SELECT COUNT(*) FROM comments c WHERE c.announcement_id = a.id) AS comment_count
	FROM announcements a`

// CreateAnnouncement inserts an announcement for its course
func (db *DB) CreateAnnouncement(a *Announcement) error {
	ts := now()
	result, err := db.Exec(`
		INSERT INTO announcements (course_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.CourseID, a.Title, a.Content, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create announcement: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get announcement id: %w", err)
	}
	a.ID = id
	a.CreatedAt = ts
	a.UpdatedAt = ts
	return nil
}

// GetAnnouncement retrieves an announcement belonging to the given course
func (db *DB) GetAnnouncement(courseID, id int64) (*Announcement, error) {
	a := &Announcement{}
	found, err := db.getOne(a, announcementSelect+` WHERE a.course_id = ? AND a.id = ?`, courseID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get announcement: %w", err)
	}
	if !found {
		return nil, nil
	}
	return a, nil
}

// ListAnnouncements returns a course's announcements, newest first
func (db *DB) ListAnnouncements(courseID int64) ([]*Announcement, error) {
	var announcements []*Announcement
	err := db.Select(&announcements, announcementSelect+`
		WHERE a.course_id = ?
		ORDER BY a.created_at DESC, a.id DESC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	return announcements, nil
}
