package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverDatabase looks for .kaizen/*.db in the current directory only.
// Returns the absolute path to the database file, or an error if not found.
//
// Only the current directory is checked, never parents: otherwise a
// nested checkout could silently pick up an enclosing project's database.
//
// The KAIZEN_DB environment variable takes precedence over discovery,
// which also gives tests a way to isolate themselves.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("KAIZEN_DB"); dbPath != "" {
		// Allow special values like ":memory:" or explicit paths
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .kaizen/*.db in the specified directory
// only. Does NOT walk up the directory tree.
func discoverDatabaseInDir(dir string) (string, error) {
	kaizenDir := filepath.Join(dir, ".kaizen")

	if info, err := os.Stat(kaizenDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(kaizenDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					dbPath := filepath.Join(kaizenDir, entry.Name())
					absPath, err := filepath.Abs(dbPath)
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no .kaizen/*.db found in %s\n"+
			"  Run 'kaizen init' to initialize an optimizer in this directory\n"+
			"  Or set KAIZEN_DB or storage.path to name the database explicitly",
		dir)
}

// ProjectRoot returns the project root directory for a given database
// path: the directory containing the .kaizen/ directory.
func ProjectRoot(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dbDir := filepath.Dir(absPath)
	if filepath.Base(dbDir) != ".kaizen" {
		return "", fmt.Errorf("database must be in a .kaizen/ directory, got: %s", dbPath)
	}

	return filepath.Dir(dbDir), nil
}
