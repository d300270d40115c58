// Package paths resolves XDG locations for herald's config and data.
//
//	config: $XDG_CONFIG_HOME/herald (~/.config/herald)
//	data:   $XDG_DATA_HOME/herald   (~/.local/share/herald)
package paths

import (
	"os"
	"path/filepath"
)

const app = "herald"

func home() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

// ConfigDir returns the config directory.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(home(), ".config")
	}
	return filepath.Join(base, app)
}

// DataDir returns the data directory.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(home(), ".local", "share")
	}
	return filepath.Join(base, app)
}

// ConfigFile returns the default config.yaml location.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// RawDir holds JSONL archives of collected items.
func RawDir() string {
	return filepath.Join(DataDir(), "data", "raw")
}

// DigestsDir holds rendered markdown digests.
func DigestsDir() string {
	return filepath.Join(DataDir(), "data", "digests")
}

// StateDir holds seen URLs and last-run state.
func StateDir() string {
	return filepath.Join(DataDir(), "data", "state")
}

// SeenFile is the default file-backed seen-set location.
func SeenFile() string {
	return filepath.Join(StateDir(), "seen_urls.txt")
}

// SeenDB is the default SQLite seen-set location.
func SeenDB() string {
	return filepath.Join(StateDir(), "seen.db")
}
