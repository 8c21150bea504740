package reference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mirahollis/classphoto-organizer/internal/pathsafe"
)

// indexPath is <log_root>/reference_index/<engine>/<model>.json.
func indexPath(logRoot string, d Descriptor) (string, error) {
	dir, err := pathsafe.JoinUnder(logRoot, "reference_index", d.Engine)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, d.Model+".json"), nil
}

// saveIndexAtomic persists the reference index via write-to-temp-then-rename.
func saveIndexAtomic(logRoot string, idx *indexFile) error {
	path, err := indexPath(logRoot, idx.Descriptor)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reference: creating index dir %s: %w", dir, err)
	}

	idx.Version = indexFormatVersion
	idx.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("reference: marshaling index: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-index-%s", uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("reference: writing temp index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("reference: renaming index file into place: %w", err)
	}
	return nil
}
