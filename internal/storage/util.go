package storage

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory holding file. State and logs are
// per-user, so new directories are private to the owner.
func EnsureParentDir(file string) error {
	return os.MkdirAll(filepath.Dir(file), 0o700)
}
