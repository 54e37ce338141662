// Package ocr turns a raster image into a plain-text transcript.
//
// The package owns preprocessing (luminance conversion and global-threshold
// binarization) and delegates recognition to an Engine. Two engines ship with
// the repository:
//   - tesseract (subpackage ocr/tesseract): local Tesseract through gosseract,
//     single uniform text block page segmentation.
//   - vision: Google Cloud Vision document text detection.
//
// Google Cloud Vision credentials:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - otherwise Application Default Credentials
//
// An engine that completes but finds no text is not an error: the extractor
// returns an empty Transcript and downstream checks treat it as "all fields
// missing".
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/raster"
)

// DefaultBinarizeThreshold separates ink from paper on high-contrast scans.
const DefaultBinarizeThreshold = 180

// Engine is the external OCR capability.
type Engine interface {
	// Name identifies the engine in logs and errors.
	Name() string

	// Recognize returns the text found in a PNG-encoded image. An image with
	// no text yields "" and a nil error.
	Recognize(ctx context.Context, pngData []byte) (string, error)
}

// Transcript is the OCR text of one image plus its lower-cased view.
type Transcript struct {
	text  string
	lower string
}

// NewTranscript builds a Transcript from raw OCR output.
func NewTranscript(text string) Transcript {
	return Transcript{text: text, lower: strings.ToLower(text)}
}

// Text returns the transcript as recognized.
func (t Transcript) Text() string { return t.text }

// Lower returns the lower-cased transcript used for matching.
func (t Transcript) Lower() string { return t.lower }

// Empty reports whether the transcript has no non-space characters.
func (t Transcript) Empty() bool { return strings.TrimSpace(t.text) == "" }

// Extractor is the Text Extractor: binarize, then recognize.
type Extractor struct {
	engine    Engine
	threshold uint8
	log       zerolog.Logger
}

// NewExtractor creates an extractor over engine with the given binarization threshold.
func NewExtractor(engine Engine, threshold int) (*Extractor, error) {
	if engine == nil {
		return nil, fmt.Errorf("ocr: engine is required")
	}
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("ocr: binarization threshold %d outside 0-255", threshold)
	}
	return &Extractor{
		engine:    engine,
		threshold: uint8(threshold),
		log:       logger.WithComponent("ocr"),
	}, nil
}

// Extract produces the transcript of img.
func (e *Extractor) Extract(ctx context.Context, img *raster.Image) (Transcript, error) {
	const op = "Extract"

	if img == nil || img.Pixels == nil || img.Pixels.Bounds().Empty() {
		return Transcript{}, &ExtractionError{Op: op, Engine: e.engine.Name(), Err: ErrEmptyImage}
	}

	binary := Binarize(img.Pixels, e.threshold)

	var buf bytes.Buffer
	if err := png.Encode(&buf, binary); err != nil {
		return Transcript{}, &ExtractionError{Op: op, Engine: e.engine.Name(), Err: err, Details: "failed to encode binarized image"}
	}

	start := time.Now()
	text, err := e.engine.Recognize(ctx, buf.Bytes())
	if err != nil {
		return Transcript{}, &ExtractionError{Op: op, Engine: e.engine.Name(), Err: err}
	}

	transcript := NewTranscript(text)
	e.log.Debug().
		Str("engine", e.engine.Name()).
		Int("text_length", len(text)).
		Dur("duration", time.Since(start)).
		Bool("empty", transcript.Empty()).
		Msg("OCR completed")

	return transcript, nil
}
