package database

import (
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mustUser(t *testing.T, db *DB, username string) *User {
	t.Helper()
	u, err := db.CreateUser(username, username+"@example.com", "hash", false)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return u
}

func mustCourse(t *testing.T, db *DB, name, description string) *Course {
	t.Helper()
	c := &Course{Name: name, Description: description}
	if err := db.CreateCourse(c); err != nil {
		t.Fatalf("failed to create course %s: %v", name, err)
	}
	return c
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	version, err := db.CurrentVersion()
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != migrations[len(migrations)-1].Version {
		t.Fatalf("expected version %d, got %d", migrations[len(migrations)-1].Version, version)
	}
}

func TestInitializeDefaults_StoresStringsBare(t *testing.T) {
	db := newTestDB(t)

	if err := db.InitializeDefaults(); err != nil {
		t.Fatalf("failed to initialize defaults: %v", err)
	}

	name, err := db.GetSetting("site.name")
	if err != nil {
		t.Fatalf("failed to read setting: %v", err)
	}
	if name != "Clubinho Nerd" {
		t.Fatalf("expected bare string, got %q", name)
	}

	var autoApprove bool
	if err := db.GetSettingJSON("enrollment.auto_approve", &autoApprove); err != nil {
		t.Fatalf("failed to read auto approve: %v", err)
	}
	if !autoApprove {
		t.Fatalf("expected auto approve default to be true")
	}
}

func TestSplitSQLStatements_SkipsComments(t *testing.T) {
	stmts := splitSQLStatements(`
		-- leading comment
		CREATE TABLE a (id INTEGER);

		CREATE TABLE b (id INTEGER);
	`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}
