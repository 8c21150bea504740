package faceengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectReturnsFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("path = %q, want /embed/face", r.URL.Path)
		}
		resp := faceResponseWire{
			FacesCount: 2,
			Model:      "buffalo_l",
			Faces: []detectionWire{
				{FaceIndex: 0, Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}, BBox: []float64{1, 2, 3, 4}, DetScore: 0.9},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0.4, 0.5, 0.6}, BBox: []float64{5, 6, 7, 8}, DetScore: 0.8},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, "buffalo_l")
	faces, err := c.Detect(context.Background(), []byte("fake-jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("len(faces) = %d, want 2", len(faces))
	}
	if faces[0].BBox != [4]float64{1, 2, 3, 4} {
		t.Errorf("faces[0].BBox = %v, want [1 2 3 4]", faces[0].BBox)
	}
}

func TestDetectNoFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(faceResponseWire{FacesCount: 0})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Detect(context.Background(), []byte("fake-jpeg-bytes"))
	if err != ErrNoFaces {
		t.Fatalf("err = %v, want ErrNoFaces", err)
	}
}

func TestDetectBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Detect(context.Background(), []byte("fake-jpeg-bytes"))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestNewDefaults(t *testing.T) {
	c := New("", "")
	if c.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, defaultBaseURL)
	}
	if c.Model() != defaultModel {
		t.Errorf("Model() = %q, want %q", c.Model(), defaultModel)
	}
}
