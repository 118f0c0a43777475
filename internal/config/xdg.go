package config

import (
	"os"
	"path/filepath"
)

// App is the directory name used under the XDG base directories.
const App = "progsync"

// XDGConfigHome returns $XDG_CONFIG_HOME or ~/.config.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns $XDG_DATA_HOME or ~/.local/share.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultConfigPath is $XDG_CONFIG_HOME/progsync/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), App, "config.toml")
}

// DefaultDBPath is $XDG_DATA_HOME/progsync/progsync.db.
func DefaultDBPath() string {
	return filepath.Join(XDGDataHome(), App, App+".db")
}
