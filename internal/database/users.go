package database

import (
	"fmt"
	"time"
)

// User represents a site account stored in the database.
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	IsStaff      bool      `db:"is_staff"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DisplayName returns the user's name, falling back to the username.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

const userColumns = `id, username, email, name, password_hash, is_staff, created_at, updated_at`

// CreateUser inserts a new user record.
func (db *DB) CreateUser(username, email, passwordHash string, isStaff bool) (*User, error) {
	ts := now()
	result, err := db.Exec(`
		INSERT INTO users (username, email, password_hash, is_staff, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, username, email, passwordHash, isStaff, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsStaff:      isStaff,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(username string) (*User, error) {
	user := &User{}
	found, err := db.getOne(user, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(id int64) (*User, error) {
	user := &User{}
	found, err := db.getOne(user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return user, nil
}

// CountUsers returns the number of accounts.
func (db *DB) CountUsers() (int, error) {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateUserPassword updates the user's password hash.
func (db *DB) UpdateUserPassword(userID int64, passwordHash string) error {
	_, err := db.Exec(`
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
	`, passwordHash, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateUserProfile updates the user's display name and email.
func (db *DB) UpdateUserProfile(userID int64, name, email string) error {
	_, err := db.Exec(`
		UPDATE users SET name = ?, email = ?, updated_at = ? WHERE id = ?
	`, name, email, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// SetUserStaff grants or revokes staff access.
func (db *DB) SetUserStaff(userID int64, isStaff bool) error {
	_, err := db.Exec(`
		UPDATE users SET is_staff = ?, updated_at = ? WHERE id = ?
	`, isStaff, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update staff flag: %w", err)
	}
	return nil
}
