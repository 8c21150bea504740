// Package reccache implements the Recognition Cache (C5): one JSON file
// per date bucket, keyed by (relative_path, size, mtime), tagged with the
// ParameterFingerprint it was produced under.
package reccache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mirahollis/classphoto-organizer/internal/recognition"
)

const formatVersion = 1

// Key identifies one cached entry within a date bucket's cache file.
type Key struct {
	RelPath string `json:"relative_path"`
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s\x00%d\x00%d", k.RelPath, k.Size, k.MTime)
}

// entry pairs a Key with its cached result, the on-disk shape (a JSON
// object keyed by Key.String() would lose structure, so the cache file is
// a flat list instead).
type entry struct {
	Key    Key                 `json:"key"`
	Result recognition.Result  `json:"result"`
}

// Cache is the in-memory form of one date bucket's recognition cache.
type Cache struct {
	Date        string
	Fingerprint string
	entries     map[string]entry // keyed by Key.String()
}

type cacheFile struct {
	Version     int     `json:"version"`
	Date        string  `json:"date"`
	Fingerprint string  `json:"parameter_fingerprint"`
	Entries     []entry `json:"entries"`
}

func path(outputStateDir, date string) string {
	return filepath.Join(outputStateDir, "recognition_cache_by_date", date+".json")
}

// Load reads the per-date cache. A missing or unparseable file returns an
// empty cache, never an error — cache corruption is treated as non-fatal.
func Load(outputStateDir, date string) *Cache {
	c := &Cache{Date: date, entries: map[string]entry{}}

	data, err := os.ReadFile(path(outputStateDir, date))
	if err != nil {
		return c
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return c
	}

	c.Fingerprint = f.Fingerprint
	for _, e := range f.Entries {
		c.entries[e.Key.String()] = e
	}
	return c
}

// IsFresh reports whether the cache's fingerprint matches the current run's
// ParameterFingerprint.
func (c *Cache) IsFresh(currentFingerprint string) bool {
	return c.Fingerprint == currentFingerprint
}

// Get returns the cached result for key, if present.
func (c *Cache) Get(key Key) (recognition.Result, bool) {
	e, ok := c.entries[key.String()]
	return e.Result, ok
}

// Put records a result for key, overwriting any existing entry.
func (c *Cache) Put(key Key, result recognition.Result) {
	if c.entries == nil {
		c.entries = map[string]entry{}
	}
	c.entries[key.String()] = entry{Key: key, Result: result}
}

// Reset clears all entries and stamps a new fingerprint — used when the
// current ParameterFingerprint differs from the cache's: the cache is
// treated as empty and entirely overwritten at save time.
func (c *Cache) Reset(fingerprint string) {
	c.Fingerprint = fingerprint
	c.entries = map[string]entry{}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// SaveAtomic persists the cache via write-to-temp-then-rename.
func SaveAtomic(outputStateDir string, c *Cache) error {
	dir := filepath.Join(outputStateDir, "recognition_cache_by_date")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reccache: creating cache dir %s: %w", dir, err)
	}

	entries := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	f := cacheFile{
		Version:     formatVersion,
		Date:        c.Date,
		Fingerprint: c.Fingerprint,
		Entries:     entries,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("reccache: marshaling cache for %s: %w", c.Date, err)
	}

	final := path(outputStateDir, c.Date)
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%s-%s", c.Date, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("reccache: writing temp cache file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("reccache: renaming cache file into place: %w", err)
	}
	return nil
}

// Delete removes the per-date cache file, used when a date is deleted from
// the input.
func Delete(outputStateDir, date string) error {
	err := os.Remove(path(outputStateDir, date))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reccache: deleting cache file for %s: %w", date, err)
	}
	return nil
}
