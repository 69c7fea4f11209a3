package storage

import (
	"os"
	"path/filepath"
)

const appName = "lanchat"

// ConfigDir returns the configuration directory following XDG_CONFIG_HOME or ~/.config.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appName)
	}
	return ""
}

// DataDir returns the data directory following XDG_DATA_HOME or ~/.local/share.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", appName)
	}
	return ""
}

// AliasFile returns the default location of the command alias table.
func AliasFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "aliases.toml")
}

// LogFile returns the default log file used while the terminal UI owns the
// screen. The data directory is created if needed.
func LogFile() (string, error) {
	dir := DataDir()
	if dir == "" {
		return filepath.Join(os.TempDir(), appName+".log"), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".log"), nil
}
