package database

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate is returned when a write violates a UNIQUE constraint
	ErrDuplicate = errors.New("record already exists")
	// ErrProtected is returned when a foreign key blocks a write, usually a
	// delete of a row that other rows still reference
	ErrProtected = errors.New("record is referenced by other records")
	// ErrEmptySlug is returned when a course has no slug and none can be
	// derived from its name
	ErrEmptySlug = errors.New("course slug cannot be empty")
)

// classify maps SQLite constraint failures onto the package sentinels so
// callers can use errors.Is without knowing the driver.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}

	code := se.Code()
	msg := se.Error()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", ErrProtected, msg)
	}
	return err
}
