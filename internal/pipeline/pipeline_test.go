package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"invoiceguard/internal/checks"
	"invoiceguard/internal/ela"
	"invoiceguard/internal/ocr"
	"invoiceguard/internal/raster"
)

type fakeRasterizer struct {
	calls  int
	err    error
	format string
}

func (f *fakeRasterizer) Rasterize(_ context.Context, doc raster.Document) (*raster.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	format := f.format
	if format == "" {
		format = "jpeg"
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	return &raster.Image{Pixels: img, Width: 4, Height: 4, Channels: 4, Format: format, Encoded: []byte("page")}, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, *raster.Image) (ocr.Transcript, error) {
	f.calls++
	if f.err != nil {
		return ocr.Transcript{}, f.err
	}
	return ocr.NewTranscript(f.text), nil
}

type countingKeywords struct {
	inner *checks.KeywordChecker
	calls int
}

func (c *countingKeywords) Check(t ocr.Transcript) checks.KeywordResult {
	c.calls++
	return c.inner.Check(t)
}

// fakeELA reports a fixed maxDifference against a threshold.
type fakeELA struct {
	maxDifference int
	threshold     int
	err           error
	calls         int
	runIDs        []string
}

func (f *fakeELA) Analyze(_ context.Context, runID string, _ *raster.Image) (*ela.Result, error) {
	f.calls++
	f.runIDs = append(f.runIDs, runID)
	if f.err != nil {
		return nil, f.err
	}
	return &ela.Result{
		Passed:        f.maxDifference <= f.threshold,
		MaxDifference: f.maxDifference,
		ArtifactRef:   "mem://" + runID + "/ela.png",
	}, nil
}

type memoryStore struct {
	mu           sync.Mutex
	saved        []string
	contentTypes []string
	data         [][]byte
}

func (m *memoryStore) Save(_ context.Context, runID, name, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, runID+"/"+name)
	m.contentTypes = append(m.contentTypes, contentType)
	m.data = append(m.data, data)
	return "mem://" + runID + "/" + name, nil
}

type harness struct {
	raster   *fakeRasterizer
	extract  *fakeExtractor
	keywords *countingKeywords
	ela      *fakeELA
	pages    *memoryStore
	events   []Event
	pipeline *Pipeline
}

func newHarness(t *testing.T, text string, maxDifference, threshold int) *harness {
	t.Helper()
	fields, err := checks.NewFieldChecker(nil, checks.DefaultMinMatches)
	if err != nil {
		t.Fatalf("NewFieldChecker() error = %v", err)
	}

	h := &harness{
		raster:   &fakeRasterizer{},
		extract:  &fakeExtractor{text: text},
		keywords: &countingKeywords{inner: checks.NewKeywordChecker(nil)},
		ela:      &fakeELA{maxDifference: maxDifference, threshold: threshold},
		pages:    &memoryStore{},
	}
	h.pipeline, err = New(Deps{
		Rasterizer: h.raster,
		Extractor:  h.extract,
		Fields:     fields,
		Keywords:   h.keywords,
		ELA:        h.ela,
		Pages:      h.pages,
		Observer:   ObserverFunc(func(e Event) { h.events = append(h.events, e) }),
		NewRunID:   func() string { return "run-1" },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const sixFields = "Invoice #7 Date 2024-01-01 Subtotal 9.00 Shipping 1.00 Tax 0.90 Total 10.90"

func TestCheckDocumentAuthentic(t *testing.T) {
	h := newHarness(t, "Invoice #1029\nOrder Date: 2024-01-01\nTotal: $50\nTax: $5", 12, 50)
	h.raster.format = "png"

	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}
	if v.Outcome != OutcomeAuthentic {
		t.Fatalf("Outcome = %s (%s)", v.Outcome, v.Message)
	}
	if v.Message != "Invoice passed all checks and seems authentic." {
		t.Fatalf("Message = %q", v.Message)
	}
	if v.EvidenceArtifact != "mem://run-1/ela.png" {
		t.Fatalf("authentic verdict must carry the ELA artifact, got %q", v.EvidenceArtifact)
	}
	if v.PageArtifact != "mem://run-1/page-1.png" {
		t.Fatalf("PageArtifact = %q", v.PageArtifact)
	}
	if !reflect.DeepEqual(h.pages.saved, []string{"run-1/page-1.png"}) {
		t.Fatalf("saved = %v", h.pages.saved)
	}
	if h.pages.contentTypes[0] != "image/png" || string(h.pages.data[0]) != "page" {
		t.Fatalf("raster upload should be stored as received, got %s %q", h.pages.contentTypes[0], h.pages.data[0])
	}
}

func TestCheckDocumentFieldFailureShortCircuits(t *testing.T) {
	h := newHarness(t, "Date: 2024-01-01\nTotal: $50 photoshop", 200, 50)

	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.jpg", "jpg"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}
	if v.Outcome != OutcomeFailedFieldCheck {
		t.Fatalf("Outcome = %s", v.Outcome)
	}
	wantMissing := []checks.Field{checks.FieldInvoice, checks.FieldTax, checks.FieldSubtotal, checks.FieldShipping}
	if !reflect.DeepEqual(v.Fields.Missing, wantMissing) {
		t.Fatalf("Missing = %v", v.Fields.Missing)
	}
	if v.Message != "Invoice failed OCR field check. Missing fields: invoice, tax, subtotal, shipping" {
		t.Fatalf("Message = %q", v.Message)
	}
	if h.keywords.calls != 0 || h.ela.calls != 0 {
		t.Fatalf("keyword (%d) and ELA (%d) stages must not run", h.keywords.calls, h.ela.calls)
	}
	if v.EvidenceArtifact != "" || v.ELA != nil {
		t.Fatalf("field failure carries no evidence")
	}
}

func TestCheckDocumentKeywordFailureSkipsELA(t *testing.T) {
	h := newHarness(t, "Invoice Date Total Tax Subtotal, edited in Photoshop", 0, 50)
	h.extract.text = "Invoice #9 Date Total Tax Subtotal photoshop"

	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}
	if v.Outcome != OutcomeFailedKeywordCheck {
		t.Fatalf("Outcome = %s", v.Outcome)
	}
	if !reflect.DeepEqual(v.Keywords.Matched, []string{"photoshop"}) {
		t.Fatalf("Matched = %v", v.Keywords.Matched)
	}
	if v.Message != "Invoice contains suspicious keywords: photoshop" {
		t.Fatalf("Message = %q", v.Message)
	}
	if h.ela.calls != 0 {
		t.Fatalf("ELA must not run after a keyword failure")
	}
	if v.EvidenceArtifact != "" {
		t.Fatalf("keyword failure carries no evidence")
	}
}

func TestCheckDocumentELAFailure(t *testing.T) {
	h := newHarness(t, sixFields, 75, 60)

	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}
	if v.Outcome != OutcomeFailedELACheck {
		t.Fatalf("Outcome = %s", v.Outcome)
	}
	if v.Message != "Invoice failed Error Level Analysis (possible alteration)" {
		t.Fatalf("Message = %q", v.Message)
	}
	if v.EvidenceArtifact == "" || v.ELA.MaxDifference != 75 {
		t.Fatalf("ELA failure must attach the artifact, got %+v", v.ELA)
	}
	if h.ela.runIDs[0] != "run-1" {
		t.Fatalf("ELA should write into the run namespace, got %q", h.ela.runIDs[0])
	}
}

func TestCheckDocumentPagedPersistsRenderedPage(t *testing.T) {
	h := newHarness(t, sixFields, 10, 50)

	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.pdf", "%PDF-1.4"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}
	if v.PageArtifact != "mem://run-1/page-1.jpg" {
		t.Fatalf("PageArtifact = %q", v.PageArtifact)
	}
	if !reflect.DeepEqual(h.pages.saved, []string{"run-1/page-1.jpg"}) {
		t.Fatalf("saved = %v", h.pages.saved)
	}
	if h.pages.contentTypes[0] != "image/jpeg" {
		t.Fatalf("content type = %s", h.pages.contentTypes[0])
	}
}

func TestPageArtifactNames(t *testing.T) {
	tests := []struct {
		kind            raster.Kind
		format          string
		wantName        string
		wantContentType string
	}{
		{raster.KindPaged, "jpeg", "page-1.jpg", "image/jpeg"},
		{raster.KindRaster, "jpeg", "page-1.jpg", "image/jpeg"},
		{raster.KindRaster, "png", "page-1.png", "image/png"},
		{raster.KindRaster, "tiff", "page-1.tif", "image/tiff"},
		{raster.KindRaster, "webp", "page-1.webp", "image/webp"},
		{raster.KindRaster, "", "page-1", "application/octet-stream"},
	}

	for _, tt := range tests {
		name, contentType := pageArtifact(tt.kind, &raster.Image{Format: tt.format})
		if name != tt.wantName || contentType != tt.wantContentType {
			t.Fatalf("%v/%q: got %s %s, want %s %s", tt.kind, tt.format, name, contentType, tt.wantName, tt.wantContentType)
		}
	}
}

func TestCheckDocumentInfrastructureErrors(t *testing.T) {
	renderErr := &raster.RenderError{Op: "renderFirstPage", Err: raster.ErrNoPages}
	extractErr := &ocr.ExtractionError{Op: "Extract", Engine: "fake", Err: ocr.ErrOCRFailed}
	decodeErr := &ela.DecodeError{Op: "Recompress", Err: ela.ErrRecompress}

	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage Stage
		wantErr   error
	}{
		{"render", func(h *harness) { h.raster.err = renderErr }, StageRasterize, raster.ErrNoPages},
		{"extract", func(h *harness) { h.extract.err = extractErr }, StageExtract, ocr.ErrOCRFailed},
		{"ela", func(h *harness) { h.ela.err = decodeErr }, StageELA, ela.ErrRecompress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, sixFields, 0, 50)
			tt.setup(h)

			v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
			if v != nil {
				t.Fatalf("infrastructure failure must not produce a verdict")
			}
			var pErr *Error
			if !errors.As(err, &pErr) {
				t.Fatalf("expected *Error, got %T (%v)", err, err)
			}
			if pErr.Stage != tt.wantStage || pErr.RunID != "run-1" {
				t.Fatalf("Error = %+v", pErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v in chain, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCheckDocumentRejectsMissingFile(t *testing.T) {
	h := newHarness(t, sixFields, 0, 50)
	_, err := h.pipeline.CheckDocument(context.Background(), filepath.Join(t.TempDir(), "missing.png"))

	var pErr *Error
	if !errors.As(err, &pErr) || pErr.Stage != StageAccept {
		t.Fatalf("expected accept-stage error, got %v", err)
	}
	if h.raster.calls != 0 {
		t.Fatalf("rasterizer must not run")
	}
}

func TestCheckDocumentHonorsContext(t *testing.T) {
	h := newHarness(t, sixFields, 0, 50)
	path := writeFile(t, "invoice.png", "png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.pipeline.CheckDocument(ctx, path); !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}

	deadline, cancelDeadline := context.WithTimeout(context.Background(), 0)
	defer cancelDeadline()
	if _, err := h.pipeline.CheckDocument(deadline, path); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if h.raster.calls != 0 {
		t.Fatalf("no stage should start after the context ended")
	}
}

func TestCheckDocumentEmitsEvents(t *testing.T) {
	h := newHarness(t, sixFields, 5, 50)
	if _, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png")); err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}

	var finished []State
	var decisions []Stage
	for _, e := range h.events {
		if e.RunID != "run-1" {
			t.Fatalf("event without run ID: %+v", e)
		}
		switch e.Type {
		case EventStageFinished:
			finished = append(finished, e.State)
		case EventDecision:
			decisions = append(decisions, e.Stage)
		}
	}

	// persist_page finishes in Rasterized as well.
	wantStates := []State{StateRasterized, StateRasterized, StateTranscribed, StateFieldChecked, StateKeywordChecked, StateElaChecked}
	if !reflect.DeepEqual(finished, wantStates) {
		t.Fatalf("states = %v, want %v", finished, wantStates)
	}
	if !reflect.DeepEqual(decisions, []Stage{StageFieldCheck, StageKeywordCheck, StageELA}) {
		t.Fatalf("decisions = %v", decisions)
	}

	last := h.events[len(h.events)-1]
	if last.Type != EventCompleted || last.State != StateDone || !last.Passed {
		t.Fatalf("last event = %+v", last)
	}
}

func TestVerdictEnvelope(t *testing.T) {
	h := newHarness(t, "Date Total", 0, 50)
	v, err := h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
	if err != nil {
		t.Fatalf("CheckDocument() error = %v", err)
	}

	env := v.Envelope()
	if env.Status != "altered" || env.Outcome != "failed_field_check" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.EvidenceArtifact != nil || env.MaxDifference != nil {
		t.Fatalf("field failure envelope should have null evidence")
	}
	if len(env.MissingFields) != 4 {
		t.Fatalf("MissingFields = %v", env.MissingFields)
	}

	h = newHarness(t, sixFields, 3, 50)
	v, _ = h.pipeline.CheckDocument(context.Background(), writeFile(t, "invoice.png", "png"))
	env = v.Envelope()
	if env.Status != "authentic" || env.EvidenceArtifact == nil || *env.MaxDifference != 3 {
		t.Fatalf("envelope = %+v", env)
	}
	if env.MissingFields != nil {
		t.Fatalf("MissingFields = %v", env.MissingFields)
	}
}

func TestNewRequiresStages(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for missing stages")
	}
}

func TestLogObserverWritesRunFields(t *testing.T) {
	var buf bytes.Buffer
	obs := &LogObserver{log: zerolog.New(&buf)}

	obs.Observe(Event{Type: EventFailed, RunID: "run-9", Stage: StageExtract, State: StateRasterized, Err: errors.New("ocr down")})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output %q is not JSON: %v", buf.String(), err)
	}
	want := map[string]interface{}{
		"level": "error", "run_id": "run-9", "event": "failed", "stage": "extract",
		"state": "Rasterized", "error": "ocr down",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Fatalf("%s = %v, want %v (entry %v)", k, entry[k], v, entry)
		}
	}
}
