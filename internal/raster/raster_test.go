package raster

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestNewDocumentKinds(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want Kind
	}{
		{"pdf extension", "invoice.PDF", []byte("%PDF-1.7"), KindPaged},
		{"jpeg extension", "scan.jpeg", []byte{0xff, 0xd8}, KindRaster},
		{"png extension", "scan.png", []byte{0x89, 'P'}, KindRaster},
		{"sniffed pdf", "upload.bin", []byte("%PDF-1.4\n"), KindPaged},
		{"unknown falls back to raster", "upload.bin", []byte("GIF89a"), KindRaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := NewDocument(writeFile(t, tt.file, tt.data))
			if err != nil {
				t.Fatalf("NewDocument() error = %v", err)
			}
			if doc.Kind != tt.want {
				t.Fatalf("kind = %v, want %v", doc.Kind, tt.want)
			}
		})
	}
}

func TestNewDocumentRejectsMissingAndEmpty(t *testing.T) {
	if _, err := NewDocument(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	_, err := NewDocument(writeFile(t, "empty.png", nil))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected *RenderError, got %T", err)
	}
}

func TestSupportedExtension(t *testing.T) {
	for name, want := range map[string]bool{
		"a.pdf": true, "a.JPG": true, "a.tiff": true, "a.webp": true,
		"a.docx": false, "noext": false,
	} {
		if got := SupportedExtension(name); got != want {
			t.Fatalf("SupportedExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRasterizePassesRasterThrough(t *testing.T) {
	data := pngBytes(t, 12, 8)
	doc, err := NewDocument(writeFile(t, "scan.png", data))
	if err != nil {
		t.Fatalf("NewDocument() error = %v", err)
	}

	img, err := NewPopplerRasterizer(PopplerConfig{}).Rasterize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if img.Width != 12 || img.Height != 8 {
		t.Fatalf("size = %dx%d, want 12x8", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Fatalf("format = %q, want png", img.Format)
	}
	if img.Channels != 4 {
		t.Fatalf("channels = %d, want 4", img.Channels)
	}
	if !bytes.Equal(img.Encoded, data) {
		t.Fatalf("raster input was re-encoded")
	}
}

func TestRasterizeCorruptImage(t *testing.T) {
	doc := Document{Path: writeFile(t, "broken.jpg", []byte("definitely not a jpeg")), Kind: KindRaster}
	_, err := NewPopplerRasterizer(PopplerConfig{}).Rasterize(context.Background(), doc)
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("expected ErrDecodeFailed, got %v", err)
	}
}

func TestRasterizeInvalidPDF(t *testing.T) {
	doc := Document{Path: writeFile(t, "broken.pdf", []byte("this is not a pdf at all")), Kind: KindPaged}
	_, err := NewPopplerRasterizer(PopplerConfig{}).Rasterize(context.Background(), doc)
	if !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF, got %v", err)
	}
}

// minimalPDF is a hand-written one-page PDF without an xref table.
const minimalPDF = "%PDF-1.4\n1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
	"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
	"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 200 200]>>endobj\n" +
	"trailer<</Root 1 0 R>>\n%%EOF\n"

func TestRasterizeMissingRenderer(t *testing.T) {
	doc := Document{Path: writeFile(t, "one.pdf", []byte(minimalPDF)), Kind: KindPaged}
	_, err := NewPopplerRasterizer(PopplerConfig{PdftoppmPath: "/nonexistent/pdftoppm"}).Rasterize(context.Background(), doc)
	if err == nil {
		t.Fatalf("expected an error without pdftoppm")
	}
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected *RenderError, got %T", err)
	}
}

func TestRasterizeMalformedPDFDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Rasterize panicked: %v", r)
		}
	}()

	doc := Document{Path: writeFile(t, "one.pdf", []byte(minimalPDF)), Kind: KindPaged}
	_, err := NewPopplerRasterizer(PopplerConfig{PdftoppmPath: "/nonexistent/pdftoppm"}).Rasterize(context.Background(), doc)
	if !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF, got %v", err)
	}
}

func TestCountPagesTruncatedPDF(t *testing.T) {
	path := writeFile(t, "cut.pdf", []byte("%PDF-1.7\n1 0 obj<</Title(unterminated"))
	n, err := countPages(path)
	if !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF, got %d, %v", n, err)
	}
	if n != 0 {
		t.Fatalf("page count = %d on error", n)
	}
}
