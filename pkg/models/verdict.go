package models

// Verdict statuses shown to upload clients.
const (
	StatusAuthentic = "authentic"
	StatusAltered   = "altered"
)

// VerdictEnvelope is the serialized verdict returned by the CLI --json output
// and the HTTP API.
type VerdictEnvelope struct {
	// Core verdict
	Outcome          string  `json:"outcome"`          // authentic, failed_field_check, failed_keyword_check, failed_ela_check
	Message          string  `json:"message"`          // Human-readable reason
	EvidenceArtifact *string `json:"evidenceArtifact"` // ELA difference image reference, null when ELA did not run
	Status           string  `json:"status"`           // "authentic" or "altered"

	// Diagnostics
	RunID           string   `json:"runId,omitempty"`
	MissingFields   []string `json:"missingFields,omitempty"`   // Field categories not found in the transcript
	MatchedKeywords []string `json:"matchedKeywords,omitempty"` // Denylist terms found in the transcript
	MaxDifference   *int     `json:"maxDifference,omitempty"`   // ELA maximum channel difference, 0-255
	PageArtifact    string   `json:"pageArtifact,omitempty"`    // Analyzed page image (rendered PDF page or the raster upload)
}

// ErrorEnvelope is returned when a document could not be processed at all.
type ErrorEnvelope struct {
	Error string `json:"error"`
}
