package raster

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"invoiceguard/internal/logger"
)

const (
	// DefaultDPI renders at the resolution OCR needs without oversizing the page.
	DefaultDPI = 300

	// DefaultJPEGQuality matches a baseline lossy save of the rendered page.
	DefaultJPEGQuality = 75
)

// PopplerConfig holds the renderer settings resolved at startup.
type PopplerConfig struct {
	// PdftoppmPath is the Poppler pdftoppm binary, absolute or on PATH.
	PdftoppmPath string

	DPI         int
	JPEGQuality int
}

// PopplerRasterizer renders page 1 of PDFs with Poppler's pdftoppm and passes
// raster images through untouched.
type PopplerRasterizer struct {
	config PopplerConfig
	log    zerolog.Logger
}

// NewPopplerRasterizer creates a rasterizer, filling zero settings with defaults.
func NewPopplerRasterizer(config PopplerConfig) *PopplerRasterizer {
	if config.PdftoppmPath == "" {
		config.PdftoppmPath = "pdftoppm"
	}
	if config.DPI <= 0 {
		config.DPI = DefaultDPI
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = DefaultJPEGQuality
	}
	return &PopplerRasterizer{
		config: config,
		log:    logger.WithComponent("rasterizer"),
	}
}

// Rasterize returns the first visual page of doc.
func (r *PopplerRasterizer) Rasterize(ctx context.Context, doc Document) (*Image, error) {
	if doc.Kind == KindRaster {
		return Load(doc.Path)
	}
	return r.renderFirstPage(ctx, doc.Path)
}

func (r *PopplerRasterizer) renderFirstPage(ctx context.Context, pdfPath string) (*Image, error) {
	const op = "renderFirstPage"

	pageCount, err := countPages(pdfPath)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, WrapRenderError(op, pdfPath, ErrNoPages, "")
	}
	if pageCount > 1 {
		r.log.Warn().
			Str("file", pdfPath).
			Int("page_count", pageCount).
			Msg("Multi-page PDF, only page 1 is checked")
	}

	workDir, err := os.MkdirTemp("", "invoiceguard-render-*")
	if err != nil {
		return nil, WrapRenderError(op, pdfPath, err, "failed to create temp dir")
	}
	defer os.RemoveAll(workDir)

	outPrefix := filepath.Join(workDir, "page")
	args := []string{
		"-f", "1", "-l", "1",
		"-r", strconv.Itoa(r.config.DPI),
		"-jpeg",
		"-jpegopt", fmt.Sprintf("quality=%d", r.config.JPEGQuality),
		"-singlefile",
		pdfPath, outPrefix,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.config.PdftoppmPath, args...)
	cmd.Stderr = &stderr

	r.log.Debug().
		Str("file", pdfPath).
		Int("dpi", r.config.DPI).
		Msg("Rendering first PDF page")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, WrapRenderError(op, pdfPath, ctxErr, "rendering interrupted")
		}
		return nil, WrapRenderError(op, pdfPath, ErrRenderFailed,
			strings.TrimSpace(fmt.Sprintf("%v %s", err, stderr.String())))
	}

	data, err := os.ReadFile(outPrefix + ".jpg")
	if err != nil {
		return nil, WrapRenderError(op, pdfPath, ErrRenderFailed, "renderer produced no page image")
	}
	img, err := Decode(data)
	if err != nil {
		return nil, WrapRenderError(op, pdfPath, ErrDecodeFailed, err.Error())
	}

	r.log.Debug().
		Str("file", pdfPath).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("Rendered first PDF page")

	return img, nil
}

// countPages parses the PDF with pdfcpu. The parser panics on some malformed
// input; that is reported as ErrInvalidPDF like any other parse failure.
func countPages(pdfPath string) (n int, err error) {
	const op = "countPages"

	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = WrapRenderError(op, pdfPath, ErrInvalidPDF, fmt.Sprint(r))
		}
	}()

	n, err = api.PageCountFile(pdfPath)
	if err != nil {
		return 0, WrapRenderError(op, pdfPath, ErrInvalidPDF, err.Error())
	}
	return n, nil
}
