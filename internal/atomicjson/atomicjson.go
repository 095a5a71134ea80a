// Package atomicjson provides crash-safe JSON file persistence: every write
// lands on a temporary file in the same directory and is then renamed over the
// target, so a reader never observes a partially written file. Reads tolerate
// a missing file by returning a caller-supplied zero value.
package atomicjson

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// ReadOrDefault unmarshals path into a T, returning def unchanged if the file
// does not exist. A malformed file is reported as an error rather than
// silently discarded, since that indicates on-disk corruption worth surfacing.
func ReadOrDefault[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return def, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return def, err
	}
	return out, nil
}

// WriteAtomic marshals v as indented, sorted-key JSON and writes it to path via
// a temp-file-then-rename sequence.
func WriteAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists reports whether path refers to a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
