package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mirahollis/classphoto-organizer/internal/imgext"
)

// Build first relocates loose classroom photos sitting directly under
// root into their resolved date subdirectory, then enumerates the
// current tree into a Descriptor.
func Build(root string, now time.Time, log *slog.Logger) (Descriptor, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := organizeLooseFiles(root, now, log); err != nil {
		return Descriptor{}, err
	}

	dates := map[string][]Entry{}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{Dates: dates}, nil
		}
		return Descriptor{}, err
	}

	for _, e := range entries {
		if !e.IsDir() || !IsCanonicalDateDir(e.Name()) {
			continue
		}
		date := e.Name()
		bucketEntries, err := scanDateBucket(root, date)
		if err != nil {
			return Descriptor{}, err
		}
		dates[date] = bucketEntries
	}

	return Descriptor{Dates: dates}, nil
}

// organizeLooseFiles moves every supported, non-zero-byte, non-hidden
// file directly under root into root/<resolved-date>/, resolving
// collisions with an ordinal suffix. This is the only input mutation the
// pipeline performs.
func organizeLooseFiles(root string, now time.Time, log *slog.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if imgext.IsHidden(name) || !imgext.IsSupported(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}

		date := resolveDateBucket(name, now)
		destDir := filepath.Join(root, date)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("snapshot: creating date bucket %s: %w", date, err)
		}

		destPath, err := uniqueDestination(destDir, name)
		if err != nil {
			return err
		}

		srcPath := filepath.Join(root, name)
		if err := os.Rename(srcPath, destPath); err != nil {
			return fmt.Errorf("snapshot: moving loose photo %s to %s: %w", name, destPath, err)
		}
		log.Info("snapshot: relocated loose classroom photo into date bucket", "file", name, "date", date)
	}
	return nil
}

// uniqueDestination returns dir/name, or dir/name_NNN.ext if that name is
// already taken, following the ordinal-suffix collision policy.
func uniqueDestination(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n < 1000; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%03d%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("snapshot: could not find a unique name for %s under %s", name, dir)
}

// scanDateBucket recursively enumerates supported, non-hidden, non-zero
// byte files under root/date, returning paths relative to root.
func scanDateBucket(root, date string) ([]Entry, error) {
	bucketDir := filepath.Join(root, date)
	var entries []Entry

	err := filepath.WalkDir(bucketDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if imgext.IsHidden(name) || !imgext.IsSupported(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			MTime:   info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: scanning date bucket %s: %w", date, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}
