// Package tesseract provides the local OCR engine backed by gosseract.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Config holds engine settings resolved at startup.
type Config struct {
	// Languages passed to Tesseract, e.g. "eng". Empty keeps the library default.
	Languages []string

	// TessdataPrefix overrides the tessdata directory. Empty keeps the environment default.
	TessdataPrefix string
}

// Engine implements ocr.Engine. Each call uses its own client, so one Engine
// is safe to share between concurrent pipeline runs.
type Engine struct {
	config        Config
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed OCR engine.
func New(config Config) *Engine {
	return &Engine{config: config, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

type outcome struct {
	text string
	err  error
}

// Recognize runs Tesseract over a PNG image as a single uniform block of text.
// The cgo call cannot be interrupted; when ctx ends first the call is
// abandoned and its client closed once it returns.
func (e *Engine) Recognize(ctx context.Context, pngData []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan outcome, 1)
	go func() {
		text, err := e.recognize(pngData)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}

func (e *Engine) recognize(pngData []byte) (string, error) {
	c := e.clientFactory()
	defer c.Close()

	if e.config.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.config.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(e.config.Languages) > 0 {
		if err := c.SetLanguage(e.config.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
