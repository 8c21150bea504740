package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
	"github.com/mirahollis/classphoto-organizer/internal/matcher"
	"github.com/mirahollis/classphoto-organizer/internal/recognition"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

type wireFace struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

type wireResponse struct {
	FacesCount int        `json:"faces_count"`
	Faces      []wireFace `json:"faces"`
	Model      string     `json:"model"`
}

func backendServer(t *testing.T, faces []wireFace) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{FacesCount: len(faces), Faces: faces, Model: "buffalo_l"})
	}))
}

func newTestDriver(t *testing.T, backendURL string, known [][]float32, names []string) *Driver {
	t.Helper()
	return &Driver{
		Engine:      faceengine.New(backendURL, "buffalo_l"),
		Matcher:     matcher.New(known, 0.6, 200),
		KnownNames:  names,
		MinFaceSize: 10,
	}
}

func TestRecognizeOneMatchesKnownFace(t *testing.T) {
	srv := backendServer(t, []wireFace{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9},
	})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p1.jpg")
	writeTestPNG(t, path)

	d := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: path}

	result := d.recognizeOne(context.Background(), w)
	if result.Status != recognition.StatusSuccess {
		t.Fatalf("Status = %v, want success", result.Status)
	}
	if len(result.MatchedNames) != 1 || result.MatchedNames[0] != "Alice" {
		t.Errorf("MatchedNames = %v, want [Alice]", result.MatchedNames)
	}
}

func TestRecognizeOneNoFaceBecomesNoFaceStatus(t *testing.T) {
	srv := backendServer(t, nil)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p1.jpg")
	writeTestPNG(t, path)

	d := newTestDriver(t, srv.URL, nil, nil)
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: path}

	result := d.recognizeOne(context.Background(), w)
	if result.Status != recognition.StatusNoFace {
		t.Fatalf("Status = %v, want no_face", result.Status)
	}
}

func TestRecognizeOneUnreadableImageBecomesError(t *testing.T) {
	d := newTestDriver(t, "http://unused.invalid", nil, nil)
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/missing.jpg", AbsPath: "/does/not/exist.jpg"}

	result := d.recognizeOne(context.Background(), w)
	if result.Status != recognition.StatusError {
		t.Fatalf("Status = %v, want error", result.Status)
	}
}

func TestRecognizeOneResidualFaceCarriesEmbedding(t *testing.T) {
	srv := backendServer(t, []wireFace{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{0, 1, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9},
	})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p1.jpg")
	writeTestPNG(t, path)

	d := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: path}

	result := d.recognizeOne(context.Background(), w)
	if len(result.Faces) != 1 || !result.Faces[0].Residual {
		t.Fatalf("Faces = %+v, want one residual face", result.Faces)
	}
	if len(result.Faces[0].Embedding) == 0 {
		t.Error("residual face should carry its embedding for clustering")
	}
}

func TestRecognizeOneSmallFaceIsFilteredOut(t *testing.T) {
	srv := backendServer(t, []wireFace{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 5, 5}, DetScore: 0.9},
	})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p1.jpg")
	writeTestPNG(t, path)

	d := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: path}

	result := d.recognizeOne(context.Background(), w)
	if len(result.Faces) != 0 {
		t.Errorf("Faces = %+v, want none (below MinFaceSize)", result.Faces)
	}
	if len(result.MatchedNames) != 0 {
		t.Errorf("MatchedNames = %v, want none", result.MatchedNames)
	}
}

func TestRecognizeOneTotalFacesCountsOnlyFacesThatMeetMinSize(t *testing.T) {
	srv := backendServer(t, []wireFace{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 5, 5}, DetScore: 0.9},
		{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9},
	})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p1.jpg")
	writeTestPNG(t, path)

	d := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})
	w := recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: path}

	result := d.recognizeOne(context.Background(), w)
	if result.TotalFaces != len(result.Faces) {
		t.Fatalf("TotalFaces = %d, len(Faces) = %d, want equal once undersized faces are filtered", result.TotalFaces, len(result.Faces))
	}
	if result.TotalFaces != 1 {
		t.Errorf("TotalFaces = %d, want 1 (the undersized face dropped)", result.TotalFaces)
	}
}

func TestMeetsMinSizeUsesLongerDimension(t *testing.T) {
	cases := map[string]struct {
		bbox    [4]float64
		minSize int
		want    bool
	}{
		"wide face passes on width alone":  {bbox: [4]float64{0, 0, 70, 30}, minSize: 50, want: true},
		"tall face passes on height alone": {bbox: [4]float64{0, 0, 30, 70}, minSize: 50, want: true},
		"square face below threshold":      {bbox: [4]float64{0, 0, 30, 30}, minSize: 50, want: false},
		"square face at threshold":         {bbox: [4]float64{0, 0, 50, 50}, minSize: 50, want: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := meetsMinSize(tc.bbox, tc.minSize); got != tc.want {
				t.Errorf("meetsMinSize(%v, %d) = %v, want %v", tc.bbox, tc.minSize, got, tc.want)
			}
		})
	}
}

func TestDecideMode(t *testing.T) {
	cases := []struct {
		name string
		n    int
		opts Options
		want string
	}{
		{"force serial wins", 100, Options{ForceSerial: true, ForceParallel: true, Enabled: true, Workers: 6, MinPhotos: 1}, "serial"},
		{"force parallel needs 2 workers", 1, Options{ForceParallel: true, Workers: 2}, "parallel"},
		{"force parallel ignored below 2 workers", 1, Options{ForceParallel: true, Workers: 1}, "serial"},
		{"threshold triggers parallel", 50, Options{Enabled: true, Workers: 6, MinPhotos: 30}, "parallel"},
		{"below threshold stays serial", 10, Options{Enabled: true, Workers: 6, MinPhotos: 30}, "serial"},
		{"disabled stays serial even above threshold", 50, Options{Enabled: false, Workers: 6, MinPhotos: 30}, "serial"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := decideMode(c.n, c.opts)
			if got != c.want {
				t.Errorf("decideMode(%d, %+v) = %q, want %q", c.n, c.opts, got, c.want)
			}
		})
	}
}

func TestRecognizeBatchParallelAgreesWithSerial(t *testing.T) {
	srv := backendServer(t, []wireFace{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9},
	})
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "p.jpg")
	writeTestPNG(t, path)

	var work []recognition.WorkItem
	for i := 0; i < 40; i++ {
		work = append(work, recognition.WorkItem{Date: "2026-01-02", RelPath: "2026-01-02/p.jpg", AbsPath: path})
	}

	serialDriver := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})
	parallelDriver := newTestDriver(t, srv.URL, [][]float32{{1, 0, 0}}, []string{"Alice"})

	serialOut := serialDriver.RecognizeBatch(context.Background(), work, Options{ForceSerial: true, Quiet: true})
	parallelOut := parallelDriver.RecognizeBatch(context.Background(), work, Options{ForceParallel: true, Workers: 4, ChunkSize: 8, Quiet: true})

	if serialOut.Mode != "serial" {
		t.Errorf("serialOut.Mode = %q, want serial", serialOut.Mode)
	}
	if parallelOut.Mode != "parallel" {
		t.Errorf("parallelOut.Mode = %q, want parallel", parallelOut.Mode)
	}
	if len(serialOut.Items) != len(parallelOut.Items) {
		t.Fatalf("item counts differ: %d vs %d", len(serialOut.Items), len(parallelOut.Items))
	}
	for i := range serialOut.Items {
		if serialOut.Items[i].Result.Status != parallelOut.Items[i].Result.Status {
			t.Errorf("item %d: serial status %v != parallel status %v", i, serialOut.Items[i].Result.Status, parallelOut.Items[i].Result.Status)
		}
	}
}
