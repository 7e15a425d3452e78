// Package imageproc decodes and normalizes uploaded leaf images into the
// tensor shape the classifier expects.
package imageproc

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/floraguard/floraguard-go/internal/errors"
)

// allowedExtensions is the upload allow-list. Keys include the leading dot to
// match filepath.Ext output.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
}

// Tensor is a normalized image ready for inference: NHWC float32 data scaled
// to [0,1] with a leading batch axis of 1.
type Tensor struct {
	Data     []float32
	Batch    int
	Height   int
	Width    int
	Channels int
}

// Normalizer validates and converts raw image bytes to model input tensors.
// It is a pure transform and safe for concurrent use.
type Normalizer struct {
	inputSize int
	maxBytes  int64
}

// New returns a Normalizer producing inputSize x inputSize RGB tensors and
// rejecting payloads larger than maxBytes.
func New(inputSize int, maxBytes int64) *Normalizer {
	return &Normalizer{inputSize: inputSize, maxBytes: maxBytes}
}

// ValidateFilename checks the upload filename against the extension
// allow-list.
func (n *Normalizer) ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return errors.Newf("no filename provided").
			Component("imageproc").
			Category(errors.CategoryInvalidInput).
			Build()
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return errors.Newf("invalid file type %q, allowed: jpg, jpeg, png, bmp, tiff", ext).
			Component("imageproc").
			Category(errors.CategoryInvalidInput).
			Context("extension", ext).
			Build()
	}
	return nil
}

// ValidateSize checks the payload length against the configured maximum.
func (n *Normalizer) ValidateSize(size int64) error {
	if size > n.maxBytes {
		return errors.Newf("file too large: %d bytes, maximum %d", size, n.maxBytes).
			Component("imageproc").
			Category(errors.CategoryInvalidInput).
			Context("size_bytes", size).
			Context("max_bytes", n.maxBytes).
			Build()
	}
	return nil
}

// Normalize decodes data, converts it to 3-channel RGB, resizes it to the
// model's square input with bilinear resampling and scales intensities to
// [0,1]. Bilinear is chosen for speed and determinism; the classifier
// tolerates minor resampling differences.
func (n *Normalizer) Normalize(data []byte) (*Tensor, error) {
	if err := n.ValidateSize(int64(len(data))); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding image: %w", err)).
			Component("imageproc").
			Category(errors.CategoryInvalidInput).
			Context("size_bytes", len(data)).
			Build()
	}

	resized := imaging.Resize(img, n.inputSize, n.inputSize, imaging.Linear)

	t := &Tensor{
		Data:     make([]float32, n.inputSize*n.inputSize*3),
		Batch:    1,
		Height:   n.inputSize,
		Width:    n.inputSize,
		Channels: 3,
	}

	// imaging always yields *image.NRGBA with 4 bytes per pixel; drop alpha.
	const inv255 = float32(1.0 / 255.0)
	pix := resized.Pix
	stride := resized.Stride
	for y := 0; y < n.inputSize; y++ {
		row := pix[y*stride:]
		for x := 0; x < n.inputSize; x++ {
			src := x * 4
			dst := (y*n.inputSize + x) * 3
			t.Data[dst] = float32(row[src]) * inv255
			t.Data[dst+1] = float32(row[src+1]) * inv255
			t.Data[dst+2] = float32(row[src+2]) * inv255
		}
	}
	return t, nil
}
