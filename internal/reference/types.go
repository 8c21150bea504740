// Package reference implements the Reference Store (C3): it scans the
// student-photo root, maintains the per-backend embedding cache and
// reference index, and exposes the known-name/known-embedding arrays the
// Matcher and Unknown Clustering consume.
package reference

// Descriptor pins the embedding space a run is using. It is stamped into
// every persisted artifact so a backend switch never reads embeddings
// produced by a different one.
type Descriptor struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

// Key returns the path-safe directory component pair for this descriptor.
func (d Descriptor) Key() (engine, model string) {
	return d.Engine, d.Model
}

// Image identifies one reference file by the triple that determines
// whether it has changed between runs.
type Image struct {
	RelPath string `json:"relative_path"`
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime"`
}

// Person is one subdirectory of the reference root with at least one
// supported image file.
type Person struct {
	Name   string
	Images []Image // selected top-N, newest mtime first
}

// recordStatus is the per-image outcome recorded in the persisted index.
type recordStatus string

const (
	statusOK      recordStatus = "ok"
	statusDropped recordStatus = "dropped" // no detectable face, or unreadable
)

// indexRecord is one row of the persisted reference index.
type indexRecord struct {
	Person      string       `json:"person"`
	RelPath     string       `json:"relative_path"`
	Size        int64        `json:"size"`
	MTime       int64        `json:"mtime"`
	Status      recordStatus `json:"status"`
	DisplayName string       `json:"display_name,omitempty"`
}

// indexFile is the on-disk shape of <log_root>/reference_index/<engine>/<model>.json.
type indexFile struct {
	Version    int           `json:"version"`
	Descriptor Descriptor    `json:"backend_descriptor"`
	CreatedAt  string        `json:"created_at"`
	Records    []indexRecord `json:"records"`
}

const indexFormatVersion = 1

// Result is what Load returns: the parallel known-name/known-embedding
// arrays the Matcher and Clustering consume, plus the fingerprint the
// Orchestrator threads into the ParameterFingerprint.
type Result struct {
	KnownNames      []string
	KnownEmbeddings [][]float32
	Fingerprint     string
	// Persons lists every scanned Person, including those with zero
	// successfully encoded embeddings, for diagnostics.
	Persons []Person
}

// Encoder describes a reference-image encoder: detect faces in a decoded
// reference image and return a single representative embedding. Store does
// not go through this interface; Load calls its *faceengine.Client Engine
// directly, using the first detected face and dropping an image with zero
// faces.
type Encoder interface {
	EncodeReference(pixelBuf *PixelBuffer) ([]float32, error)
}

// PixelBuffer has the same shape as imageio.PixelBuffer; Store itself
// decodes reference images with imageio.Load.
type PixelBuffer struct {
	Width, Height int
	Pix           []byte
}

// Mirror is the optional Postgres/pgvector reference-embedding mirror
// (SPEC_FULL.md §4.3 addition). A nil Mirror disables mirroring entirely;
// mirror failures are logged and never affect the file-based cache, which
// remains authoritative.
type Mirror interface {
	Upsert(engine, model, person, relPath string, embedding []float32) error
}

// RosterLookup is the optional MariaDB/MySQL roster cross-check (SPEC_FULL.md
// §4.3 addition). A nil RosterLookup disables the cross-check.
type RosterLookup interface {
	DisplayName(normalizedName string) (string, bool)
}
