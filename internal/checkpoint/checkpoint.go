// Package checkpoint implements the on-disk snapshot discipline shared by
// the stateful learning components: JSON payloads written to a temp path
// and atomically renamed, so a failed write can never corrupt a prior
// checkpoint.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"evotrader/internal/errors"
)

// WriteJSON marshals v and atomically replaces the file at path.
func WriteJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewPersistenceError("save", path, err)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.NewPersistenceError("save", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.NewPersistenceError("save", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewPersistenceError("save", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewPersistenceError("save", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistenceError("save", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistenceError("save", path, err)
	}
	return nil
}

// ReadJSON unmarshals the file at path into v. A missing file surfaces
// errors.ErrNoPriorState so callers can choose to start fresh; anything
// else (unreadable, malformed) is a PersistenceError.
func ReadJSON(path string, v interface{}) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrNoPriorState
		}
		return errors.NewPersistenceError("load", path, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.NewPersistenceError("load", path, err)
	}
	return nil
}
