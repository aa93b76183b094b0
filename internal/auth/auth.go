package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

const (
	// SessionDuration is how long sessions last unless auth.session_ttl says otherwise
	SessionDuration = 7 * 24 * time.Hour // 7 days
	// BcryptCost is the bcrypt cost factor
	BcryptCost = 12
	// MinPasswordLength is the shortest password accepted on register or change
	MinPasswordLength = 8
)

var (
	// ErrUsernameTaken is returned when registering an existing username
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned when a password does not match
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrPasswordTooShort is returned for passwords under MinPasswordLength
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// AuthService handles accounts, passwords and login sessions
type AuthService struct {
	db         *database.DB
	loader     *config.Loader
	bcryptCost int
}

// NewAuthService creates a new auth service
func NewAuthService(db *database.DB) *AuthService {
	return &AuthService{db: db, loader: config.NewLoader(db), bcryptCost: BcryptCost}
}

// SetBcryptCost lowers the hashing cost, for tests and the seed command
func (s *AuthService) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	return hashPassword(password, BcryptCost)
}

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Register creates a new account
func (s *AuthService) Register(username, email, password string, isStaff bool) (*database.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user, err := s.db.CreateUser(username, strings.TrimSpace(email), hash, isStaff)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", user.Username).Bool("staff", isStaff).Msg("User registered")
	return user, nil
}

// Authenticate verifies credentials and returns the user. A wrong username
// or password yields ErrInvalidCredentials.
func (s *AuthService) Authenticate(username, password string) (*database.User, error) {
	user, err := s.db.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil || !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword replaces the user's password after checking the current one
func (s *AuthService) ChangePassword(user *database.User, current, next string) error {
	if !CheckPassword(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	return s.SetPassword(user, next)
}

// SetPassword replaces the user's password without checking the old one
func (s *AuthService) SetPassword(user *database.User, password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.db.UpdateUserPassword(user.ID, hash); err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id int64) (*database.User, error) {
	return s.db.GetUserByID(id)
}

func (s *AuthService) sessionTTL() time.Duration {
	return s.loader.Duration("auth.session_ttl", SessionDuration)
}

// CreateSession creates a new session for a user
func (s *AuthService) CreateSession(userID int64) (*database.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	return s.db.CreateSession(sessionID, userID, time.Now().Add(s.sessionTTL()))
}

// GetSession retrieves a live session by ID. Expired sessions are deleted
// and reported as missing.
func (s *AuthService) GetSession(sessionID string) (*database.Session, error) {
	session, err := s.db.GetSession(sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	if time.Now().After(session.ExpiresAt) {
		if err := s.db.DeleteSession(sessionID); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, nil
	}

	return session, nil
}

// DeleteSession removes a session
func (s *AuthService) DeleteSession(sessionID string) error {
	return s.db.DeleteSession(sessionID)
}

// ExtendSession pushes a session's expiry forward by the session lifetime
func (s *AuthService) ExtendSession(sessionID string) error {
	return s.db.ExtendSession(sessionID, time.Now().Add(s.sessionTTL()))
}

// PurgeExpiredSessions deletes every expired session
func (s *AuthService) PurgeExpiredSessions() (int64, error) {
	return s.db.DeleteExpiredSessions(time.Now())
}

// generateSessionID creates a cryptographically secure session ID
func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
