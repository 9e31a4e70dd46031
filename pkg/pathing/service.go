package pathing

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Extension of measurement data files.
const DataFileExtension = ".o2d"

func GetDataDir() string {
	return "/var/lib/oxygen_monitor"
}

func GetConfigDir() string {
	return "/etc/oxygen_monitor"
}

func GetCollectorDbPath() string {
	return filepath.Join(GetDataDir(), "oxygen-collector.db")
}

// EnsureDir creates dir and its parents when missing.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// NewDataFilePath returns a fresh <uuid>.o2d path inside dir, one per session.
func NewDataFilePath(dir string) string {
	return filepath.Join(dir, uuid.NewString()+DataFileExtension)
}
