package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

func persistedPath(outputStateDir string) string {
	return filepath.Join(outputStateDir, fmt.Sprintf("classroom_snapshot.%d.json", formatVersion))
}

// Load reads the previously persisted Descriptor. A missing or unparseable
// file returns a zero-value Descriptor and no error: an absent snapshot is
// the normal state of a first run, and a corrupt one is CacheCorruption —
// never fatal.
func Load(outputStateDir string) (Descriptor, error) {
	data, err := os.ReadFile(persistedPath(outputStateDir))
	if err != nil {
		return Descriptor{Dates: map[string][]Entry{}}, nil
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{Dates: map[string][]Entry{}}, nil
	}
	if d.Dates == nil {
		d.Dates = map[string][]Entry{}
	}
	return d, nil
}

// Save persists a Descriptor atomically (write-to-temp-then-rename).
func Save(outputStateDir string, d Descriptor) error {
	if err := os.MkdirAll(outputStateDir, 0o755); err != nil {
		return fmt.Errorf("snapshot: creating state dir %s: %w", outputStateDir, err)
	}
	d.Version = formatVersion

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshaling descriptor: %w", err)
	}

	path := persistedPath(outputStateDir)
	tmp := filepath.Join(outputStateDir, fmt.Sprintf(".tmp-snapshot-%s", uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: writing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: renaming snapshot file into place: %w", err)
	}
	return nil
}
