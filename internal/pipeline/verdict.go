package pipeline

import (
	"fmt"
	"strings"

	"invoiceguard/internal/checks"
	"invoiceguard/internal/ela"
	"invoiceguard/internal/ocr"
	"invoiceguard/pkg/models"
)

// Outcome is the tamper-check result of a completed run.
type Outcome string

const (
	OutcomeAuthentic          Outcome = "authentic"
	OutcomeFailedFieldCheck   Outcome = "failed_field_check"
	OutcomeFailedKeywordCheck Outcome = "failed_keyword_check"
	OutcomeFailedELACheck     Outcome = "failed_ela_check"
)

// Authentic reports whether the document passed every check.
func (o Outcome) Authentic() bool { return o == OutcomeAuthentic }

// Verdict is built once per run and never modified.
type Verdict struct {
	RunID   string
	Outcome Outcome
	Message string

	// EvidenceArtifact is the ELA difference image, empty when ELA did not run.
	EvidenceArtifact string

	// PageArtifact is the analyzed page image: the rendered first page of a
	// PDF, or the raster upload as received.
	PageArtifact string

	Transcript ocr.Transcript
	Fields     checks.FieldResult
	Keywords   *checks.KeywordResult
	ELA        *ela.Result
}

func fieldFailureMessage(r checks.FieldResult) string {
	return "Invoice failed OCR field check. Missing fields: " + strings.Join(r.MissingNames(), ", ")
}

func keywordFailureMessage(r checks.KeywordResult) string {
	return "Invoice contains suspicious keywords: " + strings.Join(r.Matched, ", ")
}

const (
	elaFailureMessage = "Invoice failed Error Level Analysis (possible alteration)"
	authenticMessage  = "Invoice passed all checks and seems authentic."
)

// Envelope converts the verdict into its serialized form.
func (v *Verdict) Envelope() models.VerdictEnvelope {
	env := models.VerdictEnvelope{
		Outcome:       string(v.Outcome),
		Message:       v.Message,
		Status:        models.StatusAltered,
		RunID:         v.RunID,
		MissingFields: v.Fields.MissingNames(),
		PageArtifact:  v.PageArtifact,
	}
	if v.Outcome.Authentic() {
		env.Status = models.StatusAuthentic
	}
	if len(env.MissingFields) == 0 {
		env.MissingFields = nil
	}
	if v.EvidenceArtifact != "" {
		ref := v.EvidenceArtifact
		env.EvidenceArtifact = &ref
	}
	if v.Keywords != nil {
		env.MatchedKeywords = v.Keywords.Matched
	}
	if v.ELA != nil {
		maxDiff := v.ELA.MaxDifference
		env.MaxDifference = &maxDiff
	}
	return env
}

// String renders a one-line summary for terminal output.
func (v *Verdict) String() string {
	return fmt.Sprintf("%s: %s", v.Outcome, v.Message)
}
