package config

import (
	"errors"
	"fmt"
	"slices"
)

var levels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// LoggingConfig sets the minimum log level and an optional rotating file.
type LoggingConfig struct {
	Level string `json:"level"`
	// File, when set, receives a copy of every entry.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.File != "" && c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	if !slices.Contains(levels, c.Level) {
		return fmt.Errorf("unknown level %s", c.Level)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return errors.New("log rotation limits must not be negative")
	}
	return nil
}
