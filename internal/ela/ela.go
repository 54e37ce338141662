// Package ela implements Error Level Analysis.
//
// The image is recompressed as JPEG at a fixed quality and compared with
// itself pixel by pixel. A single-generation image recompresses with low,
// uniform error; pasted or locally re-edited regions stand out with higher
// error. The largest single-channel difference is the suspicion signal, and
// the brightened difference image is kept as evidence.
package ela

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"time"

	"golang.org/x/image/draw"

	"invoiceguard/internal/artifact"
	"invoiceguard/internal/logger"
	"invoiceguard/internal/raster"
)

const (
	// DefaultQuality is the recompression JPEG quality.
	DefaultQuality = 90

	// DefaultThreshold is the largest maxDifference that still passes.
	DefaultThreshold = 50

	// ArtifactName is the file name of the difference image within a run.
	ArtifactName = "ela.png"
)

// Result is the outcome of one analysis.
type Result struct {
	// Passed is true iff MaxDifference <= the engine threshold.
	Passed bool

	// MaxDifference is the largest per-channel absolute difference, 0-255.
	MaxDifference int

	// ArtifactRef points at the persisted difference image.
	ArtifactRef string
}

// Engine runs Error Level Analysis and persists its difference image.
type Engine struct {
	Quality   int
	Threshold int
	Store     artifact.Store
}

// NewEngine validates the settings and returns an engine writing to store.
func NewEngine(quality, threshold int, store artifact.Store) (*Engine, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("ela: quality %d outside 1-100", quality)
	}
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("ela: threshold %d outside 0-255", threshold)
	}
	if store == nil {
		return nil, fmt.Errorf("ela: artifact store is required")
	}
	return &Engine{
		Quality:   quality,
		Threshold: threshold,
		Store:     store,
	}, nil
}

// Analyze recompresses img, measures the difference and persists the scaled
// difference image under runID. The artifact is written whether or not the
// image passes.
func (e *Engine) Analyze(ctx context.Context, runID string, img *raster.Image) (*Result, error) {
	if img == nil || img.Pixels == nil || img.Pixels.Bounds().Empty() {
		return nil, &DecodeError{Op: "Analyze", Err: ErrEmptyImage}
	}

	start := time.Now()
	original := toRGB(img.Pixels)

	recompressed, err := Recompress(original, e.Quality)
	if err != nil {
		return nil, err
	}

	diff, maxDiff := ComputeDifference(original, recompressed)
	Brighten(diff, brightnessScale(maxDiff))

	var buf bytes.Buffer
	if err := png.Encode(&buf, diff); err != nil {
		return nil, &DecodeError{Op: "Analyze", Err: errors.Join(ErrEncodeArtifact, err)}
	}

	ref, err := e.Store.Save(ctx, runID, ArtifactName, artifact.ContentTypePNG, buf.Bytes())
	if err != nil {
		return nil, err
	}

	result := &Result{
		Passed:        maxDiff <= e.Threshold,
		MaxDifference: maxDiff,
		ArtifactRef:   ref,
	}

	log := logger.WithRunID("ela", runID)
	log.Debug().
		Int("max_difference", maxDiff).
		Int("threshold", e.Threshold).
		Int("quality", e.Quality).
		Bool("passed", result.Passed).
		Dur("duration", time.Since(start)).
		Msg("Error level analysis completed")

	return result, nil
}

// toRGB returns an opaque 3-channel copy of src with bounds starting at the
// origin. Alpha is dropped rather than composited.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// Recompress round-trips img through an in-memory JPEG at quality.
func Recompress(img image.Image, quality int) (image.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &DecodeError{Op: "Recompress", Err: errors.Join(ErrRecompress, err), Details: "encode"}
	}
	out, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, &DecodeError{Op: "Recompress", Err: errors.Join(ErrRecompress, err), Details: "decode"}
	}
	return out, nil
}

// ComputeDifference returns the per-channel absolute difference of a and b
// over a's bounds, plus the largest channel value found.
func ComputeDifference(a *image.RGBA, b image.Image) (*image.RGBA, int) {
	bounds := a.Bounds()
	bMin := b.Bounds().Min
	diff := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	maxDiff := 0
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			ca := a.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, bl, _ := b.At(bMin.X+x, bMin.Y+y).RGBA()

			d := color.RGBA{
				R: absDiff(ca.R, uint8(r>>8)),
				G: absDiff(ca.G, uint8(g>>8)),
				B: absDiff(ca.B, uint8(bl>>8)),
				A: 0xff,
			}
			maxDiff = max(maxDiff, int(d.R), int(d.G), int(d.B))
			diff.SetRGBA(x, y, d)
		}
	}
	return diff, maxDiff
}

// brightnessScale maps maxDiff to full brightness. A zero maximum is treated
// as 1.
func brightnessScale(maxDiff int) float64 {
	if maxDiff == 0 {
		maxDiff = 1
	}
	return 255.0 / float64(maxDiff)
}

// Brighten multiplies every color channel of img by scale in place, clamped to 255.
func Brighten(img *image.RGBA, scale float64) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := math.Round(float64(img.Pix[i+c]) * scale)
			img.Pix[i+c] = uint8(min(v, 255))
		}
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
