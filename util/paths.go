package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the directory holding the config file and the database.
const HomeEnv = EnvPrefix + "_HOME"

// GetConfigDir returns the directory for bookfed's files, creating it when
// missing: $BOOKFED_HOME, else the user config dir ($XDG_CONFIG_HOME/bookfed).
func GetConfigDir() (string, error) {
	dir := os.Getenv(HomeEnv)
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate user config directory: %w", err)
		}
		dir = filepath.Join(base, Name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// ResolveFilePath maps a relative file name to a location. A file in the
// working directory wins, then one in the config dir. When neither exists
// the config dir path is returned so the file gets created there.
func ResolveFilePath(filename string) string {
	if filepath.IsAbs(filename) || filename == ":memory:" {
		return filename
	}
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(configDir, filename)
}
