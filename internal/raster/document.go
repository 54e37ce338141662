package raster

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind discriminates the two document shapes the pipeline accepts.
type Kind int

const (
	// KindRaster is a single decoded-image file (jpeg, png, ...).
	KindRaster Kind = iota
	// KindPaged is a paged document (PDF); only page 1 is used.
	KindPaged
)

func (k Kind) String() string {
	if k == KindPaged {
		return "paged"
	}
	return "raster"
}

// rasterExtensions lists the image formats a decoder is registered for.
var rasterExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
}

// Document references one accepted input file. It is immutable.
type Document struct {
	Path string
	Kind Kind
}

// SupportedExtension reports whether a file name carries an accepted extension.
func SupportedExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return ext == "pdf" || rasterExtensions[ext]
}

// NewDocument resolves the kind of the file at path. The extension decides
// first; files with an unknown extension are sniffed for a PDF header.
func NewDocument(path string) (Document, error) {
	const op = "NewDocument"

	info, err := os.Stat(path)
	if err != nil {
		return Document{}, WrapRenderError(op, path, err, "cannot access document")
	}
	if !info.Mode().IsRegular() {
		return Document{}, WrapRenderError(op, path, ErrUnsupportedFormat, "not a regular file")
	}
	if info.Size() == 0 {
		return Document{}, WrapRenderError(op, path, ErrUnsupportedFormat, "file is empty")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch {
	case ext == "pdf":
		return Document{Path: path, Kind: KindPaged}, nil
	case rasterExtensions[ext]:
		return Document{Path: path, Kind: KindRaster}, nil
	}

	isPDF, err := hasPDFHeader(path)
	if err != nil {
		return Document{}, WrapRenderError(op, path, err, "cannot read document header")
	}
	if isPDF {
		return Document{Path: path, Kind: KindPaged}, nil
	}
	// Let the image decoders decide; Load reports ErrDecodeFailed otherwise.
	return Document{Path: path, Kind: KindRaster}, nil
}

func hasPDFHeader(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("read header: %w", err)
	}
	return bytes.Equal(header, []byte("%PDF")), nil
}
