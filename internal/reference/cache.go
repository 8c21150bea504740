package reference

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mirahollis/classphoto-organizer/internal/pathsafe"
)

// cacheDir is <log_root>/reference_encodings/<engine>/<model>/<person>/.
func cacheDir(logRoot string, d Descriptor, person string) (string, error) {
	return pathsafe.JoinUnder(logRoot, "reference_encodings", d.Engine, d.Model, person)
}

// fileID derives the cache file's basename from a reference image's
// identity. It embeds size and mtime so that a content change to the
// image (same relative path, different size or mtime) misses the cache
// instead of silently reusing a stale embedding: a reference image is
// considered unchanged iff its (relative_path, size, mtime) triple is
// unchanged.
func fileID(img Image) string {
	base := filepath.Base(img.RelPath)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s.%d-%d.bin", stem, img.Size, img.MTime)
}

// loadEmbedding reads a persisted embedding cache file. A missing file is
// reported via os.IsNotExist on the returned error; any other error is
// treated as cache corruption by the caller.
func loadEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("reference: truncated embedding cache file %s", path)
	}
	dim := binary.LittleEndian.Uint32(data[:4])
	want := 4 + int(dim)*4
	if len(data) != want {
		return nil, fmt.Errorf("reference: embedding cache file %s has %d bytes, want %d for dim=%d", path, len(data), want, dim)
	}
	emb := make([]float32, dim)
	for i := 0; i < int(dim); i++ {
		bits := binary.LittleEndian.Uint32(data[4+i*4 : 8+i*4])
		emb[i] = math.Float32frombits(bits)
	}
	return emb, nil
}

// saveEmbeddingAtomic writes an embedding cache file via write-to-temp,
// then-rename, so a crash mid-write never leaves a partially written
// cache file at the final path.
func saveEmbeddingAtomic(dir, path string, emb []float32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reference: creating cache dir %s: %w", dir, err)
	}

	buf := make([]byte, 4+len(emb)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(emb)))
	for i, f := range emb {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(f))
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%s-%s", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("reference: writing temp cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("reference: renaming cache file into place: %w", err)
	}
	return nil
}

// dimensionMismatch reports whether emb's length differs from expectedDim,
// the signal that triggers discarding the entire backend-specific cache
// subtree.
func dimensionMismatch(emb []float32, expectedDim int) bool {
	return expectedDim > 0 && len(emb) != expectedDim
}

// discardCacheSubtree removes every cached embedding for this descriptor,
// used when an embedding's dimensionality differs from that of the first
// embedding obtained during the same Load.
func discardCacheSubtree(logRoot string, d Descriptor) error {
	dir, err := pathsafe.JoinUnder(logRoot, "reference_encodings", d.Engine, d.Model)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reference: discarding stale cache subtree %s: %w", dir, err)
	}
	return nil
}
