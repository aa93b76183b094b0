package config

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// SettingsGetter reads a raw setting value; an unset key reads as ""
type SettingsGetter interface {
	GetSetting(key string) (string, error)
}

// Loader reads runtime settings with a fallback for each one. Values are
// read on every call so changes from the admin page apply without a restart.
type Loader struct {
	db SettingsGetter
}

func NewLoader(db SettingsGetter) *Loader {
	return &Loader{db: db}
}

func (l *Loader) raw(key string) string {
	val, err := l.db.GetSetting(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		return ""
	}
	return val
}

// Int reads an integer setting
func (l *Loader) Int(key string, fallback int) int {
	if v, err := strconv.Atoi(l.raw(key)); err == nil {
		return v
	}
	return fallback
}

// Bool reads a boolean setting. Values strconv.ParseBool rejects use the fallback.
func (l *Loader) Bool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(l.raw(key)); err == nil {
		return v
	}
	return fallback
}

// String reads a string setting; empty means unset
func (l *Loader) String(key, fallback string) string {
	if v := l.raw(key); v != "" {
		return v
	}
	return fallback
}

// Duration reads a setting in time.ParseDuration format, e.g. "168h"
func (l *Loader) Duration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(l.raw(key)); err == nil {
		return v
	}
	return fallback
}
