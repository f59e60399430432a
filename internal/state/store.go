// Package state persists build outputs and build run history for one target
// directory. Two backends implement core.Store: SQLiteStore (the default) and
// FileStore, which keeps one JSON document per record.
package state

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// Backend names accepted by OpenStore.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Dir returns the state directory inside a target directory.
func Dir(targetDir string) string {
	return filepath.Join(targetDir, ".leapbuild")
}

// OpenStore opens and initializes the store of the given backend for targetDir.
func OpenStore(backend, targetDir string, logger *slog.Logger) (core.Store, error) {
	var store core.Store
	var path string
	switch backend {
	case "", BackendSQLite:
		store = NewSQLiteStore(logger)
		path = filepath.Join(Dir(targetDir), "state.db")
	case BackendFile:
		store = NewFileStore(logger)
		path = Dir(targetDir)
	default:
		return nil, fmt.Errorf("unknown state backend %q (expected %s or %s)", backend, BackendSQLite, BackendFile)
	}

	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
