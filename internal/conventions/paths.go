package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default rctl data directory name (relative to home).
	DefaultDataDir = ".rctl"
	// ConfigFile is the default client configuration filename.
	ConfigFile = "config.yaml"
	// HistoryDBFile is the SQLite execution history filename.
	HistoryDBFile = "history.db"
)

// DataDir returns the rctl data directory for a home directory.
func DataDir(home string) string {
	return filepath.Join(home, DefaultDataDir)
}

// ConfigPath returns the default config file path for a home directory.
func ConfigPath(home string) string {
	return filepath.Join(DataDir(home), ConfigFile)
}

// HistoryDBPath returns the default execution history database path for a home directory.
func HistoryDBPath(home string) string {
	return filepath.Join(DataDir(home), HistoryDBFile)
}
