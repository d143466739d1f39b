// Package segment prepares a source menu photo for recognition: the whole
// image first, then overlapping tiles chosen by aspect ratio, so dense
// handwritten menus get a second pass at higher effective resolution.
package segment

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Segment is one encoded sub-image handed to a recognition call.
type Segment struct {
	Index    int
	Total    int
	Data     []byte
	MimeType string
}

// Options bound the segmenter's output.
type Options struct {
	MaxSegments int     // total segments including the whole image
	MaxDim      int     // longest output edge after downscale
	Quality     int     // JPEG quality
	Overlap     float64 // fraction of tile size shared with its neighbor
}

const (
	defaultMaxSegments = 4
	defaultMaxDim      = 1400
	defaultQuality     = 85
	defaultOverlap     = 0.12

	// Aspect ratio beyond which the image is tiled as strips rather than
	// quadrants.
	stripRatio = 1.6

	// Images smaller than this on both edges are not worth tiling.
	tileMinDim = 1000
)

func (o Options) withDefaults() Options {
	if o.MaxSegments <= 0 {
		o.MaxSegments = defaultMaxSegments
	}
	if o.MaxDim <= 0 {
		o.MaxDim = defaultMaxDim
	}
	if o.Quality <= 0 {
		o.Quality = defaultQuality
	}
	if o.Overlap <= 0 || o.Overlap >= 0.5 {
		o.Overlap = defaultOverlap
	}
	return o
}

// Split decodes the source image and returns the analysis segments in
// processing order. A decode failure means the input bytes are not a usable
// image.
func Split(data []byte, opts Options) ([]Segment, error) {
	opts = opts.withDefaults()

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("decode image: empty bounds")
	}

	rects := []image.Rectangle{bounds}
	rects = append(rects, tileRects(bounds, opts.Overlap)...)
	if len(rects) > opts.MaxSegments {
		rects = rects[:opts.MaxSegments]
	}

	segments := make([]Segment, 0, len(rects))
	for i, r := range rects {
		encoded, err := encodeRegion(src, r, opts.MaxDim, opts.Quality)
		if err != nil {
			return nil, fmt.Errorf("encode segment %d: %w", i, err)
		}
		segments = append(segments, Segment{
			Index:    i,
			Total:    len(rects),
			Data:     encoded,
			MimeType: "image/jpeg",
		})
	}
	return segments, nil
}

// tileRects picks overlapping sub-regions: column strips for wide images,
// row strips for tall ones, quadrants for large near-square ones. Small
// images get no tiles.
func tileRects(bounds image.Rectangle, overlap float64) []image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	ratio := float64(w) / float64(h)

	switch {
	case ratio >= stripRatio:
		return strips(bounds, 3, overlap, true)
	case ratio <= 1/stripRatio:
		return strips(bounds, 3, overlap, false)
	case w >= tileMinDim && h >= tileMinDim:
		return quadrants(bounds, overlap)
	}
	return nil
}

// strips cuts n overlapping strips along the given axis (vertical cuts when
// columns is true).
func strips(bounds image.Rectangle, n int, overlap float64, columns bool) []image.Rectangle {
	length := bounds.Dx()
	if !columns {
		length = bounds.Dy()
	}
	step := length / n
	pad := int(float64(step) * overlap)

	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		lo := bounds.Min.X
		if !columns {
			lo = bounds.Min.Y
		}
		start := lo + i*step - pad
		end := lo + (i+1)*step + pad
		if columns {
			out = append(out, clamp(image.Rect(start, bounds.Min.Y, end, bounds.Max.Y), bounds))
		} else {
			out = append(out, clamp(image.Rect(bounds.Min.X, start, bounds.Max.X, end), bounds))
		}
	}
	return out
}

func quadrants(bounds image.Rectangle, overlap float64) []image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	padX := int(float64(w/2) * overlap)
	padY := int(float64(h/2) * overlap)
	midX := bounds.Min.X + w/2
	midY := bounds.Min.Y + h/2

	return []image.Rectangle{
		clamp(image.Rect(bounds.Min.X, bounds.Min.Y, midX+padX, midY+padY), bounds),
		clamp(image.Rect(midX-padX, bounds.Min.Y, bounds.Max.X, midY+padY), bounds),
		clamp(image.Rect(bounds.Min.X, midY-padY, midX+padX, bounds.Max.Y), bounds),
		clamp(image.Rect(midX-padX, midY-padY, bounds.Max.X, bounds.Max.Y), bounds),
	}
}

func clamp(r, bounds image.Rectangle) image.Rectangle {
	return r.Intersect(bounds)
}

// encodeRegion crops the region out of src, downscales it so the longest
// edge is at most maxDim, and encodes it as JPEG.
func encodeRegion(src image.Image, region image.Rectangle, maxDim, quality int) ([]byte, error) {
	w, h := region.Dx(), region.Dy()
	outW, outH := w, h
	if w > maxDim || h > maxDim {
		if w >= h {
			outW = maxDim
			outH = h * maxDim / w
		} else {
			outH = maxDim
			outW = w * maxDim / h
		}
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, region, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EnsureJPEG normalizes arbitrary image bytes to JPEG. Bytes that already
// look like JPEG pass through untouched; anything else is decoded and
// re-encoded.
func EnsureJPEG(data []byte, quality int) ([]byte, error) {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return data, nil
	}
	if quality <= 0 {
		quality = defaultQuality
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
