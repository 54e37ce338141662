package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/raster"
	"invoiceguard/pkg/models"
)

// UploadField is the multipart field carrying the document.
const UploadField = "invoice"

// multipartOverhead leaves room for form boundaries and headers.
const multipartOverhead = 1 << 20

const processFailure = "could not process document"

// writeJSON sends body with status. The status is already committed when
// encoding fails, so the failure is only logged.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logger.WithRequestID(middleware.GetReqID(r.Context()))
		log.Error().
			Err(err).
			Int("status", status).
			Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, models.ErrorEnvelope{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckInvoice(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequestID(middleware.GetReqID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, r, http.StatusBadRequest, "no file selected")
		return
	}
	if !raster.SupportedExtension(header.Filename) {
		writeError(w, r, http.StatusBadRequest, "unsupported file type")
		return
	}
	if header.Size > s.config.MaxUploadBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	dir, err := os.MkdirTemp(s.config.UploadDir, "upload-*")
	if err != nil {
		log.Error().Err(err).Msg("Failed to create upload directory")
		writeError(w, r, http.StatusInternalServerError, processFailure)
		return
	}
	defer os.RemoveAll(dir)

	// The client's file name is only used for its extension.
	path := filepath.Join(dir, "invoice"+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveUpload(file, path); err != nil {
		log.Error().Err(err).Msg("Failed to store upload")
		writeError(w, r, http.StatusInternalServerError, processFailure)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	verdict, err := s.checker.CheckDocument(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("file", header.Filename).Msg("Tamper check failed")
		writeError(w, r, http.StatusInternalServerError, processFailure)
		return
	}

	log.Info().
		Str("run_id", verdict.RunID).
		Str("outcome", string(verdict.Outcome)).
		Str("file", header.Filename).
		Msg("Tamper check completed")

	writeJSON(w, r, http.StatusOK, verdict.Envelope())
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
