package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// EnrollmentStatus is the state of a user's enrollment in a course
type EnrollmentStatus int

const (
	EnrollmentPending   EnrollmentStatus = 0
	EnrollmentApproved  EnrollmentStatus = 1
	EnrollmentCancelled EnrollmentStatus = 2
)

func (s EnrollmentStatus) String() string {
	switch s {
	case EnrollmentPending:
		return "Pending"
	case EnrollmentApproved:
		return "Approved"
	case EnrollmentCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("EnrollmentStatus(%d)", int(s))
	}
}

// Enrollment links a user to a course. There is at most one per pair.
type Enrollment struct {
	ID        int64            `db:"id"`
	UserID    int64            `db:"user_id"`
	CourseID  int64            `db:"course_id"`
	Status    EnrollmentStatus `db:"status"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

// IsApproved reports whether the enrollment has been approved
func (e *Enrollment) IsApproved() bool {
	return e.Status == EnrollmentApproved
}

// EnrollmentWithCourse is an enrollment joined with its course, for a user's dashboard
type EnrollmentWithCourse struct {
	Enrollment
	CourseName string `db:"course_name"`
	CourseSlug string `db:"course_slug"`
}

// EnrollmentWithUser is an enrollment joined with its user, for the course admin page
type EnrollmentWithUser struct {
	Enrollment
	Username  string `db:"username"`
	UserEmail string `db:"user_email"`
}

const enrollmentColumns = `id, user_id, course_id, status, created_at, updated_at`

// CreateEnrollment inserts a pending enrollment. A second enrollment for the
// same user and course fails with ErrDuplicate.
func (db *DB) CreateEnrollment(userID, courseID int64) (*Enrollment, error) {
	return createEnrollment(db, userID, courseID)
}

func createEnrollment(ex sqlx.Execer, userID, courseID int64) (*Enrollment, error) {
	ts := now()
	result, err := ex.Exec(`
		INSERT INTO enrollments (user_id, course_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, courseID, EnrollmentPending, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment id: %w", err)
	}

	return &Enrollment{
		ID:        id,
		UserID:    userID,
		CourseID:  courseID,
		Status:    EnrollmentPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

// GetOrCreateEnrollment returns the user's enrollment in the course, creating a
// pending one when none exists. created reports whether a row was inserted.
func (db *DB) GetOrCreateEnrollment(userID, courseID int64) (enrollment *Enrollment, created bool, err error) {
	err = db.Transaction(func(tx *sqlx.Tx) error {
		existing := &Enrollment{}
		getErr := tx.Get(existing, `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = ? AND course_id = ?`, userID, courseID)
		if getErr == nil {
			enrollment = existing
			return nil
		}
		if !isNoRows(getErr) {
			return fmt.Errorf("failed to get enrollment: %w", getErr)
		}

		e, createErr := createEnrollment(tx, userID, courseID)
		if createErr != nil {
			return createErr
		}
		enrollment = e
		created = true
		return nil
	})
	return enrollment, created, err
}

// GetEnrollment retrieves the enrollment for a user and course
func (db *DB) GetEnrollment(userID, courseID int64) (*Enrollment, error) {
	e := &Enrollment{}
	found, err := db.getOne(e, `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = ? AND course_id = ?`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return e, nil
}

// GetEnrollmentByID retrieves an enrollment by ID
func (db *DB) GetEnrollmentByID(id int64) (*Enrollment, error) {
	e := &Enrollment{}
	found, err := db.getOne(e, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return e, nil
}

// ActivateEnrollment marks the enrollment approved and saves it
func (db *DB) ActivateEnrollment(e *Enrollment) error {
	return db.SetEnrollmentStatus(e, EnrollmentApproved)
}

// CancelEnrollment marks the enrollment cancelled and saves it. The row is kept.
func (db *DB) CancelEnrollment(e *Enrollment) error {
	return db.SetEnrollmentStatus(e, EnrollmentCancelled)
}

// SetEnrollmentStatus stores a new status on the enrollment
func (db *DB) SetEnrollmentStatus(e *Enrollment, status EnrollmentStatus) error {
	ts := now()
	_, err := db.Exec(`
		UPDATE enrollments SET status = ?, updated_at = ? WHERE id = ?
	`, status, ts, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update enrollment %d: %w", e.ID, err)
	}
	e.Status = status
	e.UpdatedAt = ts
	return nil
}

// ListEnrollmentsForUser returns a user's enrollments with course names, ordered by course name
func (db *DB) ListEnrollmentsForUser(userID int64) ([]*EnrollmentWithCourse, error) {
	var enrollments []*EnrollmentWithCourse
	err := db.Select(&enrollments, `
		SELECT e.id, e.user_id, e.course_id, e.status, e.created_at, e.updated_at,
			c.name AS course_name, c.slug AS course_slug
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = ?
		ORDER BY c.name, e.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListEnrollmentsForCourse returns a course's enrollments with usernames, oldest first
func (db *DB) ListEnrollmentsForCourse(courseID int64) ([]*EnrollmentWithUser, error) {
	var enrollments []*EnrollmentWithUser
	err := db.Select(&enrollments, `
		SELECT e.id, e.user_id, e.course_id, e.status, e.created_at, e.updated_at,
			u.username AS username, u.email AS user_email
		FROM enrollments e
		JOIN users u ON u.id = e.user_id
		WHERE e.course_id = ?
		ORDER BY e.created_at, e.id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListApprovedUsers returns the users with an approved enrollment in the course
func (db *DB) ListApprovedUsers(courseID int64) ([]*User, error) {
	var users []*User
	err := db.Select(&users, `
		SELECT u.id, u.username, u.email, u.name, u.password_hash, u.is_staff, u.created_at, u.updated_at
		FROM users u
		JOIN enrollments e ON e.user_id = u.id
		WHERE e.course_id = ? AND e.status = ?
		ORDER BY u.username
	`, courseID, EnrollmentApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved users: %w", err)
	}
	return users, nil
}
