package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"invoiceguard/internal/checks"
	"invoiceguard/internal/ela"
	"invoiceguard/internal/pipeline"
	"invoiceguard/pkg/models"
)

type fakeChecker struct {
	verdict *pipeline.Verdict
	err     error
	paths   []string
	content []byte
}

func (f *fakeChecker) CheckDocument(_ context.Context, path string) (*pipeline.Verdict, error) {
	f.paths = append(f.paths, path)
	f.content, _ = os.ReadFile(path)
	return f.verdict, f.err
}

func newTestServer(t *testing.T, checker Checker, maxBytes int64) (*Server, string) {
	t.Helper()
	uploads := t.TempDir()
	artifacts := t.TempDir()
	return New(checker, Config{
		UploadDir:      uploads,
		MaxUploadBytes: maxBytes,
		ArtifactDir:    artifacts,
	}), artifacts
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/check_invoice", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestCheckInvoiceReturnsEnvelope(t *testing.T) {
	checker := &fakeChecker{verdict: &pipeline.Verdict{
		RunID:            "run-1",
		Outcome:          pipeline.OutcomeFailedELACheck,
		Message:          "Invoice failed Error Level Analysis (possible alteration)",
		EvidenceArtifact: "/artifacts/run-1/ela.png",
		Fields:           checks.FieldResult{Passed: true, Matched: checks.AllFields},
		Keywords:         &checks.KeywordResult{Passed: true},
		ELA:              &ela.Result{MaxDifference: 75, ArtifactRef: "/artifacts/run-1/ela.png"},
	}}
	srv, _ := newTestServer(t, checker, 1<<20)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, UploadField, "Scan.PDF", []byte("%PDF-1.4")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var env models.VerdictEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Outcome != "failed_ela_check" || env.Status != "altered" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.EvidenceArtifact == nil || *env.EvidenceArtifact != "/artifacts/run-1/ela.png" {
		t.Fatalf("evidenceArtifact = %v", env.EvidenceArtifact)
	}

	if len(checker.paths) != 1 || filepath.Ext(checker.paths[0]) != ".pdf" {
		t.Fatalf("checked paths = %v", checker.paths)
	}
	if string(checker.content) != "%PDF-1.4" {
		t.Fatalf("upload content = %q", checker.content)
	}
	if _, err := os.Stat(filepath.Dir(checker.paths[0])); !os.IsNotExist(err) {
		t.Fatalf("per-request upload directory should be removed, stat err = %v", err)
	}
}

func TestCheckInvoiceNullEvidence(t *testing.T) {
	checker := &fakeChecker{verdict: &pipeline.Verdict{
		Outcome: pipeline.OutcomeFailedFieldCheck,
		Message: "Invoice failed OCR field check. Missing fields: tax",
		Fields:  checks.FieldResult{Missing: []checks.Field{checks.FieldTax}},
	}}
	srv, _ := newTestServer(t, checker, 1<<20)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, UploadField, "invoice.png", []byte("png")))

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	value, ok := raw["evidenceArtifact"]
	if !ok || value != nil {
		t.Fatalf("evidenceArtifact should be present and null, got %v", raw)
	}
}

func TestCheckInvoiceRejections(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name:       "wrong field",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "file", "invoice.png", []byte("x")) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported extension",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, UploadField, "invoice.docx", []byte("x")) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too large",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, UploadField, "invoice.png", make([]byte, 64)) },
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/check_invoice", strings.NewReader("{}"))
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{}
			srv, _ := newTestServer(t, checker, 16)

			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, tt.req(t))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(checker.paths) != 0 {
				t.Fatalf("pipeline must not run for rejected uploads")
			}
		})
	}
}

func TestCheckInvoiceInfrastructureError(t *testing.T) {
	checker := &fakeChecker{err: &pipeline.Error{Stage: pipeline.StageExtract, RunID: "r", Err: errors.New("tesseract crashed")}}
	srv, _ := newTestServer(t, checker, 1<<20)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, UploadField, "invoice.jpg", []byte("jpg")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var env models.ErrorEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Error != "could not process document" {
		t.Fatalf("error = %q", env.Error)
	}
	if strings.Contains(rec.Body.String(), "tesseract") {
		t.Fatalf("internal diagnostics leaked to the client")
	}
}

func TestArtifactsAndHealth(t *testing.T) {
	srv, artifacts := newTestServer(t, &fakeChecker{}, 1<<20)
	if err := os.MkdirAll(filepath.Join(artifacts, "run-1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artifacts, "run-1", "ela.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/artifacts/run-1/ela.png")
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "png-bytes" {
		t.Fatalf("artifact status %d body %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/artifacts/run-1/")
	if err != nil {
		t.Fatalf("GET directory: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("directory listing status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	status int
}

func (b *brokenWriter) Header() http.Header { return b.header }

func (b *brokenWriter) WriteHeader(status int) { b.status = status }

func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := zlog.Logger
	zlog.Logger = zerolog.New(&buf)
	t.Cleanup(func() { zlog.Logger = prev })

	w := &brokenWriter{header: http.Header{}}
	writeJSON(w, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK, map[string]string{"status": "ok"})

	if w.status != http.StatusOK {
		t.Fatalf("status = %d", w.status)
	}
	out := buf.String()
	if !strings.Contains(out, "Failed to write response") || !strings.Contains(out, "connection reset") {
		t.Fatalf("encode failure not logged: %q", out)
	}
}
