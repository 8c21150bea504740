package reference

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
)

func writeRefImage(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestScanPersonsSelectsNewestFirstAndCapsAtN(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writeRefImage(t, filepath.Join(root, "Alice", "a.jpg"), base)
	writeRefImage(t, filepath.Join(root, "Alice", "b.jpg"), base.Add(time.Hour))
	writeRefImage(t, filepath.Join(root, "Alice", "c.jpg"), base.Add(2*time.Hour))
	// Not an image: ignored.
	os.WriteFile(filepath.Join(root, "Alice", "notes.txt"), []byte("x"), 0o644)
	// Directly under root: ignored per spec.
	writeRefImage(t, filepath.Join(root, "loose.jpg"), base)

	persons, err := scanPersons(root, 2)
	if err != nil {
		t.Fatalf("scanPersons: %v", err)
	}
	if len(persons) != 1 {
		t.Fatalf("len(persons) = %d, want 1", len(persons))
	}
	if persons[0].Name != "Alice" {
		t.Fatalf("person name = %q, want Alice", persons[0].Name)
	}
	if len(persons[0].Images) != 2 {
		t.Fatalf("len(images) = %d, want 2 (capped at N)", len(persons[0].Images))
	}
	if filepath.Base(persons[0].Images[0].RelPath) != "c.jpg" {
		t.Errorf("newest image first = %q, want c.jpg", persons[0].Images[0].RelPath)
	}
}

func TestScanPersonsIgnoresEmptyPersonDirs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	persons, err := scanPersons(root, 5)
	if err != nil {
		t.Fatalf("scanPersons: %v", err)
	}
	if len(persons) != 0 {
		t.Fatalf("len(persons) = %d, want 0", len(persons))
	}
}

func TestScanPersonsMissingRootIsNotFatal(t *testing.T) {
	persons, err := scanPersons(filepath.Join(t.TempDir(), "missing"), 5)
	if err != nil {
		t.Fatalf("scanPersons: %v", err)
	}
	if persons != nil {
		t.Fatalf("persons = %v, want nil", persons)
	}
}

func TestFingerprintDeterministicAndSensitive(t *testing.T) {
	d := Descriptor{Engine: "insightface", Model: "buffalo_l"}
	p1 := []Person{{Name: "Alice", Images: []Image{{RelPath: "Alice/a.jpg", Size: 10, MTime: 100}}}}
	p2 := []Person{{Name: "Alice", Images: []Image{{RelPath: "Alice/a.jpg", Size: 10, MTime: 100}}}}

	if computeFingerprint(p1, d) != computeFingerprint(p2, d) {
		t.Error("identical inputs produced different fingerprints")
	}

	p3 := []Person{{Name: "Alice", Images: []Image{{RelPath: "Alice/a.jpg", Size: 11, MTime: 100}}}}
	if computeFingerprint(p1, d) == computeFingerprint(p3, d) {
		t.Error("changed size did not change fingerprint")
	}
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	want := []float32{0.1, -0.2, 0.3, 0.0}

	if err := saveEmbeddingAtomic(dir, path, want); err != nil {
		t.Fatalf("saveEmbeddingAtomic: %v", err)
	}
	got, err := loadEmbedding(path)
	if err != nil {
		t.Fatalf("loadEmbedding: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadReusesCachedEmbeddingAcrossRuns(t *testing.T) {
	root := t.TempDir()
	logRoot := t.TempDir()
	writeRefImage(t, filepath.Join(root, "Alice", "a.jpg"), time.Now())

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 1,
			"faces": []map[string]any{
				{"embedding": []float32{1, 2, 3}, "bbox": []float64{0, 0, 10, 10}, "det_score": 0.9},
			},
		})
	}))
	defer srv.Close()

	engine := faceengine.New(srv.URL, "buffalo_l")
	d := Descriptor{Engine: "insightface", Model: "buffalo_l"}

	store := New(root, logRoot, d, 5, engine)
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls after first Load = %d, want 1", calls)
	}

	store2 := New(root, logRoot, d, 5, engine)
	res, err := store2.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls after second Load = %d, want 1 (cache hit)", calls)
	}
	if len(res.KnownNames) != 1 || res.KnownNames[0] != "Alice" {
		t.Fatalf("KnownNames = %v, want [Alice]", res.KnownNames)
	}
}

func TestLoadDropsReferenceImageWithNoDetectableFace(t *testing.T) {
	root := t.TempDir()
	logRoot := t.TempDir()
	writeRefImage(t, filepath.Join(root, "Bob", "b.jpg"), time.Now())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"faces_count": 0})
	}))
	defer srv.Close()

	engine := faceengine.New(srv.URL, "buffalo_l")
	d := Descriptor{Engine: "insightface", Model: "buffalo_l"}
	store := New(root, logRoot, d, 5, engine)

	res, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.KnownEmbeddings) != 0 {
		t.Fatalf("KnownEmbeddings = %v, want empty", res.KnownEmbeddings)
	}
	found := false
	for _, p := range res.Persons {
		if p.Name == "Bob" {
			found = true
		}
	}
	if !found {
		t.Error("Bob should still be a known Person with zero embeddings")
	}
}
