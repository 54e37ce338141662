package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"

	// Decoders registered for raster uploads.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded raster owned by one pipeline run. Stages never mutate it;
// transformations produce new images.
type Image struct {
	Pixels   image.Image
	Width    int
	Height   int
	Channels int

	// Format is the decoder name ("jpeg", "png", ...).
	Format string

	// Encoded holds the bytes Pixels was decoded from: the original file for
	// raster documents, the rendered page for paged ones.
	Encoded []byte
}

// Rasterizer turns a Document into the single raster image of its first page.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document) (*Image, error)
}

// Decode builds an Image from encoded bytes without re-encoding them.
func Decode(data []byte) (*Image, error) {
	pixels, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := pixels.Bounds()
	return &Image{
		Pixels:   pixels,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: channels(pixels.ColorModel()),
		Format:   format,
		Encoded:  data,
	}, nil
}

// Load reads and decodes an image file.
func Load(path string) (*Image, error) {
	const op = "Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapRenderError(op, path, err, "cannot read image")
	}
	img, err := Decode(data)
	if err != nil {
		return nil, WrapRenderError(op, path, ErrDecodeFailed, err.Error())
	}
	return img, nil
}

func channels(model color.Model) int {
	switch model {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.CMYKModel:
		return 4
	default:
		// YCbCr, paletted and anything else renders as three color channels.
		return 3
	}
}
