package database

import (
	"encoding/json"
	"fmt"

	"github.com/clubinhonerd/clubinhonerd/internal/logging"
)

// GetSetting retrieves a setting value by key
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettingJSON retrieves a setting and unmarshal it from JSON
func (db *DB) GetSettingJSON(key string, v any) error {
	value, err := db.GetSetting(key)
	if err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return json.Unmarshal([]byte(value), v)
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SetSettingJSON stores a setting as JSON
func (db *DB) SetSettingJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	return db.SetSetting(key, string(data))
}

// DeleteSetting removes a setting so readers fall back to their default
func (db *DB) DeleteSetting(key string) error {
	_, err := db.Exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// Default settings
var DefaultSettings = map[string]any{
	"log.level":                     "info",
	"log.max_size_mb":               logging.DefaultMaxSizeMB,
	"log.max_backups":               logging.DefaultMaxBackups,
	"log.max_age_days":              logging.DefaultMaxAgeDays,
	"log.compress":                  logging.DefaultCompress,
	"enrollment.auto_approve":       true, // approve on sign-up instead of waiting for staff
	"notifications.enabled":         true,
	"jobs.session_cleanup_schedule": "@hourly",
	"jobs.optimize_schedule":        "@daily",
	"site.name":                     "Clubinho Nerd",
	"auth.session_ttl":              "168h",
}

// InitializeDefaults sets default values for settings that don't exist
func (db *DB) InitializeDefaults() error {
	for key, value := range DefaultSettings {
		existing, err := db.GetSetting(key)
		if err != nil {
			return err
		}
		if existing != "" {
			continue
		}
		// Strings are stored bare so config.Loader can read them back as-is
		if str, ok := value.(string); ok {
			err = db.SetSetting(key, str)
		} else {
			err = db.SetSettingJSON(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
