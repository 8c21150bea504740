// Package faceengine is the Face backend adapter (C2): it talks to an
// out-of-process face detection/embedding server over HTTP and turns its
// response into the DetectedFace shape the rest of the pipeline consumes.
package faceengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultModel   = "buffalo_l"
)

// ErrNoFaces is returned by Detect when the backend ran successfully but
// found zero faces; callers distinguish this from a backend failure.
var ErrNoFaces = errors.New("faceengine: no faces detected")

// DetectedFace is one face found in a photo, with its raw embedding and
// bounding box in source-pixel coordinates.
type DetectedFace struct {
	Embedding []float32
	BBox      [4]float64 // x1, y1, x2, y2
	DetScore  float64
}

// Client talks to the face embedding backend over HTTP, grounded on the
// same multipart-POST-then-decode-JSON shape the image embedding backend
// uses.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient swaps in a caller-provided *http.Client, primarily for
// tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client. baseURL and model fall back to sane defaults when
// empty so a zero-value Config never produces an unusable client.
func New(baseURL, model string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model reports the model name the backend was configured with.
func (c *Client) Model() string {
	return c.model
}

type detectionWire struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

type faceResponseWire struct {
	FacesCount int              `json:"faces_count"`
	Faces      []detectionWire  `json:"faces"`
	Model      string           `json:"model"`
}

// Detect sends jpegData to the backend's face endpoint and returns every
// face it found. It returns ErrNoFaces (not an error the Recognition
// Driver should retry) when the backend reports zero faces.
func (c *Client) Detect(ctx context.Context, jpegData []byte) ([]DetectedFace, error) {
	body, err := c.postImage(ctx, "/embed/face", jpegData)
	if err != nil {
		return nil, err
	}

	var wire faceResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("faceengine: decoding response: %w", err)
	}

	if wire.FacesCount == 0 || len(wire.Faces) == 0 {
		return nil, ErrNoFaces
	}

	faces := make([]DetectedFace, 0, len(wire.Faces))
	for _, f := range wire.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		var bbox [4]float64
		for i := 0; i < 4 && i < len(f.BBox); i++ {
			bbox[i] = f.BBox[i]
		}
		faces = append(faces, DetectedFace{
			Embedding: f.Embedding,
			BBox:      bbox,
			DetScore:  f.DetScore,
		})
	}
	if len(faces) == 0 {
		return nil, ErrNoFaces
	}
	return faces, nil
}

func (c *Client) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("faceengine: creating form part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("faceengine: writing image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("faceengine: closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("faceengine: building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("faceengine: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("faceengine: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("faceengine: backend returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
