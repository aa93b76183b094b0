package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

// CourseImageDir is the media directory course images are stored under
const CourseImageDir = "courses/images"

// Course is a course page, identified publicly by its slug
type Course struct {
	ID          int64      `db:"id"`
	Name        string     `db:"name"`
	Slug        string     `db:"slug"`
	Description string     `db:"description"`
	About       string     `db:"about"`
	StartDate   *time.Time `db:"start_date"`
	Image       string     `db:"image"` // media path relative to the media root, empty when unset
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (c *Course) String() string {
	return c.Name
}

// AbsoluteURL returns the course's details page
func (c *Course) AbsoluteURL() string {
	return urls.BuildCourseDetails(c.Slug)
}

// ensureSlug derives an empty slug from the name. Names without any
// letter or digit that folds to ASCII leave nothing to derive from.
func (c *Course) ensureSlug() error {
	if c.Slug == "" {
		c.Slug = Slugify(c.Name)
	}
	if c.Slug == "" {
		return ErrEmptySlug
	}
	return nil
}

const courseColumns = `id, name, slug, description, about, start_date, image, created_at, updated_at`

// CreateCourse inserts a course. An empty slug is derived from the name.
func (db *DB) CreateCourse(c *Course) error {
	if err := c.ensureSlug(); err != nil {
		return err
	}

	ts := now()
	result, err := db.Exec(`
		INSERT INTO courses (name, slug, description, about, start_date, image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Name, c.Slug, c.Description, c.About, c.StartDate, c.Image, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create course: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get course id: %w", err)
	}
	c.ID = id
	c.CreatedAt = ts
	c.UpdatedAt = ts
	return nil
}

// UpdateCourse saves every editable column of an existing course
func (db *DB) UpdateCourse(c *Course) error {
	if err := c.ensureSlug(); err != nil {
		return err
	}

	ts := now()
	_, err := db.Exec(`
		UPDATE courses SET name = ?, slug = ?, description = ?, about = ?, start_date = ?, image = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Slug, c.Description, c.About, c.StartDate, c.Image, ts, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update course: %w", classify(err))
	}
	c.UpdatedAt = ts
	return nil
}

// GetCourse retrieves a course by ID
func (db *DB) GetCourse(id int64) (*Course, error) {
	c := &Course{}
	found, err := db.getOne(c, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if !found {
		return nil, nil
	}
	return c, nil
}

// GetCourseBySlug retrieves a course by slug
func (db *DB) GetCourseBySlug(slug string) (*Course, error) {
	c := &Course{}
	found, err := db.getOne(c, `SELECT `+courseColumns+` FROM courses WHERE slug = ?`, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if !found {
		return nil, nil
	}
	return c, nil
}

// ListCourses returns all courses ordered by name
func (db *DB) ListCourses() ([]*Course, error) {
	var courses []*Course
	if err := db.Select(&courses, `SELECT `+courseColumns+` FROM courses ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

// SearchCourses returns every course whose name or description contains
// query, ignoring case. An empty query matches all courses.
func (db *DB) SearchCourses(query string) ([]*Course, error) {
	pattern := "%" + escapeLike(query) + "%"

	var courses []*Course
	err := db.Select(&courses, `
		SELECT `+courseColumns+` FROM courses
		WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		ORDER BY name, id
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search courses: %w", err)
	}
	return courses, nil
}

// DeleteCourse removes a course. It fails with ErrProtected while any
// enrollment or announcement still references it.
func (db *DB) DeleteCourse(id int64) error {
	if _, err := db.Exec("DELETE FROM courses WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete course: %w", classify(err))
	}
	return nil
}

// escapeLike escapes the LIKE wildcards so the query matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
