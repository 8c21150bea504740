// Package imageio is the Image I/O adapter (C1): it loads a file from disk
// into a raw pixel buffer the Face backend adapter (C2) can consume, and
// turns every flavor of unreadable file into a single per-file error that
// never aborts the run.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnreadableImage is wrapped by every failure Load reports: I/O errors,
// truncated files, unsupported formats, and zero-byte files.
var ErrUnreadableImage = errors.New("imageio: unreadable image")

// PixelBuffer is a row-major, 3-channel, 8-bit-per-channel image buffer in
// RGB order — the fixed shape the Face backend adapter (C2) is contracted
// to accept.
type PixelBuffer struct {
	Width  int
	Height int
	// Pix holds Width*Height*3 bytes, row-major, RGB per pixel.
	Pix []byte
}

// Load opens path, decodes it, and converts it to a PixelBuffer. It is
// deterministic for a given file's contents: the same bytes always decode
// to the same buffer.
func Load(path string) (*PixelBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	return Decode(data)
}

// Decode converts raw image bytes into a PixelBuffer. Zero-byte input is
// rejected explicitly because a zero-length file decodes to a generic EOF
// error in every registered codec, and zero-byte files deserve their own
// distinct failure case rather than a confusing codec error.
func Decode(data []byte) (*PixelBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: zero-byte input", ErrUnreadableImage)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: zero-dimension image", ErrUnreadableImage)
	}

	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	pix := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := rgba.PixOffset(x, y)
			dst := (y*width + x) * 3
			pix[dst] = rgba.Pix[o]
			pix[dst+1] = rgba.Pix[o+1]
			pix[dst+2] = rgba.Pix[o+2]
		}
	}

	return &PixelBuffer{Width: width, Height: height, Pix: pix}, nil
}

// EncodeJPEG re-encodes a PixelBuffer as JPEG bytes. Used by the Face
// backend HTTP adapter (C2) to ship image data over the wire in a format
// every embedding backend accepts regardless of the original file's
// format.
func EncodeJPEG(buf *PixelBuffer, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			src := (y*buf.Width + x) * 3
			o := img.PixOffset(x, y)
			img.Pix[o] = buf.Pix[src]
			img.Pix[o+1] = buf.Pix[src+1]
			img.Pix[o+2] = buf.Pix[src+2]
			img.Pix[o+3] = 0xff
		}
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imageio: encoding jpeg: %w", err)
	}
	return out.Bytes(), nil
}
