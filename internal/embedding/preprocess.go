package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultInputSize is the side length images are resized to before extraction.
	DefaultInputSize = 224
	// DefaultMaxPixels caps width*height of an image accepted for decoding.
	DefaultMaxPixels = 40_000_000
)

// Pixels is a decoded image resized to Size x Size, stored channel-first (CHW) with
// values in [0, 1].
type Pixels struct {
	Size int
	Data []float32
}

// Channel returns the plane for channel c (0 = red, 1 = green, 2 = blue).
func (p *Pixels) Channel(c int) []float32 {
	n := p.Size * p.Size
	return p.Data[c*n : (c+1)*n]
}

// Preprocess decodes JPEG, PNG, GIF or WebP bytes and resizes them to size x size.
// The header is checked first: images larger than maxPixels are rejected before any
// pixel buffer is allocated. maxPixels <= 0 means DefaultMaxPixels.
func Preprocess(data []byte, size, maxPixels int) (*Pixels, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}
	if size <= 0 {
		size = DefaultInputSize
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image header: %v", ErrExtractionFailed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrExtractionFailed, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, more than %d pixels",
			ErrExtractionFailed, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrExtractionFailed, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty %s image", ErrExtractionFailed, format)
	}

	resized := imaging.Resize(img, size, size, imaging.Lanczos)

	n := size * size
	px := &Pixels{Size: size, Data: make([]float32, 3*n)}
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			o := x * 4
			px.Data[i] = float32(row[o]) / 255
			px.Data[n+i] = float32(row[o+1]) / 255
			px.Data[2*n+i] = float32(row[o+2]) / 255
		}
	}
	return px, nil
}
