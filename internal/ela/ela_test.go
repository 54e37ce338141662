package ela

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"invoiceguard/internal/raster"
)

type memoryStore struct {
	saved map[string][]byte
	err   error
}

func (m *memoryStore) Save(_ context.Context, runID, name, _ string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	key := runID + "/" + name
	m.saved[key] = data
	return "mem://" + key, nil
}

func newTestEngine(t *testing.T, threshold int, store *memoryStore) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultQuality, threshold, store)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func gradientImage() *raster.Image {
	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 128; x++ {
			v := uint8(x * 2)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return &raster.Image{Pixels: img, Width: 128, Height: 64, Channels: 4}
}

func noiseImage(seed int64) *raster.Image {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.Intn(256))
		img.Pix[i+1] = uint8(r.Intn(256))
		img.Pix[i+2] = uint8(r.Intn(256))
		img.Pix[i+3] = 255
	}
	return &raster.Image{Pixels: img, Width: 64, Height: 64, Channels: 4}
}

func TestAnalyzeSmoothImagePasses(t *testing.T) {
	store := &memoryStore{}
	result, err := newTestEngine(t, DefaultThreshold, store).Analyze(context.Background(), "run", gradientImage())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected smooth gradient to pass, max difference %d", result.MaxDifference)
	}
	if result.ArtifactRef != "mem://run/ela.png" {
		t.Fatalf("ArtifactRef = %q", result.ArtifactRef)
	}
}

func TestAnalyzeNoiseFailsAndKeepsArtifact(t *testing.T) {
	store := &memoryStore{}
	result, err := newTestEngine(t, DefaultThreshold, store).Analyze(context.Background(), "run", noiseImage(7))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if result.Passed {
		t.Fatalf("expected random noise to fail, max difference %d", result.MaxDifference)
	}
	if result.MaxDifference <= DefaultThreshold || result.MaxDifference > 255 {
		t.Fatalf("MaxDifference = %d", result.MaxDifference)
	}

	data, ok := store.saved["run/ela.png"]
	if !ok {
		t.Fatalf("artifact not saved on failure")
	}
	artifactImg, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}
	if artifactImg.Bounds().Dx() != 64 || artifactImg.Bounds().Dy() != 64 {
		t.Fatalf("artifact bounds = %v", artifactImg.Bounds())
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	img := noiseImage(42)
	engine := newTestEngine(t, DefaultThreshold, &memoryStore{})

	first, err := engine.Analyze(context.Background(), "a", img)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	second, err := engine.Analyze(context.Background(), "b", img)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if first.MaxDifference != second.MaxDifference || first.Passed != second.Passed {
		t.Fatalf("runs differ: %+v vs %+v", first, second)
	}
}

func TestAnalyzeThresholdIsInclusive(t *testing.T) {
	img := noiseImage(3)
	baseline, err := newTestEngine(t, 255, &memoryStore{}).Analyze(context.Background(), "baseline", img)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	atMax, _ := newTestEngine(t, baseline.MaxDifference, &memoryStore{}).Analyze(context.Background(), "eq", img)
	if !atMax.Passed {
		t.Fatalf("maxDifference equal to threshold should pass")
	}
	if baseline.MaxDifference > 0 {
		below, _ := newTestEngine(t, baseline.MaxDifference-1, &memoryStore{}).Analyze(context.Background(), "lt", img)
		if below.Passed {
			t.Fatalf("maxDifference above threshold should fail")
		}
	}
}

func TestZeroDifferenceScale(t *testing.T) {
	if got := brightnessScale(0); got != 255 {
		t.Fatalf("brightnessScale(0) = %v, want 255", got)
	}
	if got := brightnessScale(51); got != 5 {
		t.Fatalf("brightnessScale(51) = %v, want 5", got)
	}

	img := gradientImage().Pixels.(*image.RGBA)
	diff, maxDiff := ComputeDifference(img, img)
	if maxDiff != 0 {
		t.Fatalf("identical images should have zero difference, got %d", maxDiff)
	}
	Brighten(diff, brightnessScale(maxDiff))
	for i := 0; i < len(diff.Pix); i += 4 {
		if diff.Pix[i] != 0 || diff.Pix[i+1] != 0 || diff.Pix[i+2] != 0 {
			t.Fatalf("zero difference must stay black")
		}
	}
}

func TestBrightenClamps(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 100, B: 0, A: 255})
	Brighten(img, 5)

	got := img.RGBAAt(0, 0)
	if got.R != 50 || got.G != 255 || got.B != 0 || got.A != 255 {
		t.Fatalf("Brighten() = %+v", got)
	}
}

func TestToRGBDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 6, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 200, G: 100, B: 50, A: 0})

	got := toRGB(src).RGBAAt(0, 0)
	if got != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Fatalf("toRGB() = %+v", got)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	engine := newTestEngine(t, DefaultThreshold, &memoryStore{})
	_, err := engine.Analyze(context.Background(), "run", &raster.Image{Pixels: image.NewRGBA(image.Rect(0, 0, 0, 0))})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected DecodeError for empty image, got %v", err)
	}

	storeErr := errors.New("disk full")
	engine = newTestEngine(t, DefaultThreshold, &memoryStore{err: storeErr})
	if _, err := engine.Analyze(context.Background(), "run", gradientImage()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(0, 50, &memoryStore{}); err == nil {
		t.Fatalf("expected error for quality 0")
	}
	if _, err := NewEngine(90, 256, &memoryStore{}); err == nil {
		t.Fatalf("expected error for threshold 256")
	}
	if _, err := NewEngine(90, 50, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
