// Package pipeline orchestrates one tamper check over a document:
//
//	Start -> Rasterized -> Transcribed -> FieldChecked -> KeywordChecked -> ElaChecked -> Done
//
// A failed field or keyword check ends the run before ELA. A failed ELA check
// ends it with the difference image attached. Infrastructure failures abort
// the run with *Error and never produce a Verdict.
//
// A Pipeline holds no per-run state and may serve concurrent runs.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoiceguard/internal/artifact"
	"invoiceguard/internal/checks"
	"invoiceguard/internal/ela"
	"invoiceguard/internal/ocr"
	"invoiceguard/internal/raster"
)

// Stage names a unit of work in a run.
type Stage string

const (
	StageAccept       Stage = "accept"
	StageRasterize    Stage = "rasterize"
	StagePersistPage  Stage = "persist_page"
	StageExtract      Stage = "extract"
	StageFieldCheck   Stage = "field_check"
	StageKeywordCheck Stage = "keyword_check"
	StageELA          Stage = "ela"
)

// State is a node of the run state machine.
type State string

const (
	StateStart              State = "Start"
	StateRasterized         State = "Rasterized"
	StateTranscribed        State = "Transcribed"
	StateFieldChecked       State = "FieldChecked"
	StateKeywordChecked     State = "KeywordChecked"
	StateElaChecked         State = "ElaChecked"
	StateDone               State = "Done"
	StateFailedFieldCheck   State = "FailedFieldCheck"
	StateFailedKeywordCheck State = "FailedKeywordCheck"
	StateFailedElaCheck     State = "FailedElaCheck"
)

// PageArtifactName is the name the rendered first page of a PDF is saved
// under. Raster uploads keep their own format, see pageArtifact.
const PageArtifactName = "page-1.jpg"

// pageArtifact names the analyzed page image and its content type. Raster
// uploads are stored as received.
func pageArtifact(kind raster.Kind, img *raster.Image) (name, contentType string) {
	if kind == raster.KindPaged {
		return PageArtifactName, artifact.ContentTypeJPEG
	}
	ext := img.Format
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "tiff":
		ext = "tif"
	case "":
		return "page-1", "application/octet-stream"
	}
	return "page-1." + ext, "image/" + img.Format
}

// TextExtractor produces a transcript from a raster image.
type TextExtractor interface {
	Extract(ctx context.Context, img *raster.Image) (ocr.Transcript, error)
}

// FieldChecker decides field presence over a transcript.
type FieldChecker interface {
	Check(t ocr.Transcript) checks.FieldResult
}

// KeywordChecker scans a transcript for tamper vocabulary.
type KeywordChecker interface {
	Check(t ocr.Transcript) checks.KeywordResult
}

// ErrorLevelAnalyzer runs ELA and persists its artifact under runID.
type ErrorLevelAnalyzer interface {
	Analyze(ctx context.Context, runID string, img *raster.Image) (*ela.Result, error)
}

// Deps are the stage implementations a Pipeline runs.
type Deps struct {
	Rasterizer raster.Rasterizer
	Extractor  TextExtractor
	Fields     FieldChecker
	Keywords   KeywordChecker
	ELA        ErrorLevelAnalyzer

	// Pages stores the analyzed page image of every run. Optional.
	Pages artifact.Store

	// Observer receives run events. Defaults to NopObserver.
	Observer Observer

	// NewRunID generates run identifiers. Defaults to random UUIDs.
	NewRunID func() string
}

// Pipeline is the orchestrator.
type Pipeline struct {
	deps Deps
}

// New validates deps and returns a pipeline.
func New(deps Deps) (*Pipeline, error) {
	var missing []string
	if deps.Rasterizer == nil {
		missing = append(missing, "rasterizer")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Fields == nil {
		missing = append(missing, "field checker")
	}
	if deps.Keywords == nil {
		missing = append(missing, "keyword checker")
	}
	if deps.ELA == nil {
		missing = append(missing, "ELA engine")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing %s", strings.Join(missing, ", "))
	}

	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Pipeline{deps: deps}, nil
}

// run carries the per-invocation bookkeeping.
type run struct {
	id    string
	obs   Observer
	state State
}

func (r *run) emit(e Event) {
	e.RunID = r.id
	if e.State == "" {
		e.State = r.state
	}
	r.obs.Observe(e)
}

func (r *run) advance(stage Stage, to State, started time.Time) {
	r.state = to
	r.emit(Event{Type: EventStageFinished, Stage: stage, Duration: time.Since(started)})
}

// begin checks cancellation at a stage boundary and announces the stage.
func (r *run) begin(ctx context.Context, stage Stage) (time.Time, error) {
	if err := contextError(ctx); err != nil {
		return time.Time{}, r.fail(stage, err)
	}
	r.emit(Event{Type: EventStageStarted, Stage: stage})
	return time.Now(), nil
}

func (r *run) fail(stage Stage, err error) error {
	r.emit(Event{Type: EventFailed, Stage: stage, Err: err})
	return &Error{Stage: stage, RunID: r.id, Err: err}
}

// stageFailed prefers the context error when the stage failed because the
// run ended, so callers can match ErrTimeout and ErrCanceled.
func (r *run) stageFailed(ctx context.Context, stage Stage, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return r.fail(stage, err)
}

// CheckDocument runs the full tamper check over the file at path.
func (p *Pipeline) CheckDocument(ctx context.Context, path string) (*Verdict, error) {
	r := &run{id: p.deps.NewRunID(), obs: p.deps.Observer, state: StateStart}

	doc, err := raster.NewDocument(path)
	if err != nil {
		return nil, r.fail(StageAccept, err)
	}
	return p.check(ctx, r, doc)
}

func (p *Pipeline) check(ctx context.Context, r *run, doc raster.Document) (*Verdict, error) {
	verdict := &Verdict{RunID: r.id}

	// Start -> Rasterized
	started, err := r.begin(ctx, StageRasterize)
	if err != nil {
		return nil, err
	}
	img, err := p.deps.Rasterizer.Rasterize(ctx, doc)
	if err != nil {
		return nil, r.stageFailed(ctx, StageRasterize, err)
	}
	r.advance(StageRasterize, StateRasterized, started)

	if p.deps.Pages != nil && len(img.Encoded) > 0 {
		started, err := r.begin(ctx, StagePersistPage)
		if err != nil {
			return nil, err
		}
		name, contentType := pageArtifact(doc.Kind, img)
		ref, err := p.deps.Pages.Save(ctx, r.id, name, contentType, img.Encoded)
		if err != nil {
			return nil, r.stageFailed(ctx, StagePersistPage, err)
		}
		verdict.PageArtifact = ref
		r.advance(StagePersistPage, StateRasterized, started)
	}

	// Rasterized -> Transcribed
	started, err = r.begin(ctx, StageExtract)
	if err != nil {
		return nil, err
	}
	transcript, err := p.deps.Extractor.Extract(ctx, img)
	if err != nil {
		return nil, r.stageFailed(ctx, StageExtract, err)
	}
	verdict.Transcript = transcript
	r.advance(StageExtract, StateTranscribed, started)

	// Transcribed -> FieldChecked | FailedFieldCheck
	started, err = r.begin(ctx, StageFieldCheck)
	if err != nil {
		return nil, err
	}
	fields := p.deps.Fields.Check(transcript)
	verdict.Fields = fields
	r.advance(StageFieldCheck, pick(fields.Passed, StateFieldChecked, StateFailedFieldCheck), started)
	r.decide(StageFieldCheck, fields.Passed, fmt.Sprintf("matched %d, missing: %s",
		len(fields.Matched), strings.Join(fields.MissingNames(), ",")))
	if !fields.Passed {
		return r.finish(verdict, StateFailedFieldCheck, OutcomeFailedFieldCheck, fieldFailureMessage(fields)), nil
	}

	// FieldChecked -> KeywordChecked | FailedKeywordCheck
	started, err = r.begin(ctx, StageKeywordCheck)
	if err != nil {
		return nil, err
	}
	keywords := p.deps.Keywords.Check(transcript)
	verdict.Keywords = &keywords
	r.advance(StageKeywordCheck, pick(keywords.Passed, StateKeywordChecked, StateFailedKeywordCheck), started)
	r.decide(StageKeywordCheck, keywords.Passed, "matched: "+strings.Join(keywords.Matched, ","))
	if !keywords.Passed {
		return r.finish(verdict, StateFailedKeywordCheck, OutcomeFailedKeywordCheck, keywordFailureMessage(keywords)), nil
	}

	// KeywordChecked -> ElaChecked | FailedElaCheck
	started, err = r.begin(ctx, StageELA)
	if err != nil {
		return nil, err
	}
	result, err := p.deps.ELA.Analyze(ctx, r.id, img)
	if err != nil {
		return nil, r.stageFailed(ctx, StageELA, err)
	}
	verdict.ELA = result
	verdict.EvidenceArtifact = result.ArtifactRef
	r.advance(StageELA, pick(result.Passed, StateElaChecked, StateFailedElaCheck), started)

	r.decide(StageELA, result.Passed, fmt.Sprintf("max_difference: %d", result.MaxDifference))
	if !result.Passed {
		return r.finish(verdict, StateFailedElaCheck, OutcomeFailedELACheck, elaFailureMessage), nil
	}

	// ElaChecked -> Done
	return r.finish(verdict, StateDone, OutcomeAuthentic, authenticMessage), nil
}

func pick(passed bool, next, failed State) State {
	if passed {
		return next
	}
	return failed
}

func (r *run) decide(stage Stage, passed bool, detail string) {
	r.emit(Event{Type: EventDecision, Stage: stage, Passed: passed, Detail: detail})
}

func (r *run) finish(v *Verdict, terminal State, outcome Outcome, message string) *Verdict {
	v.Outcome = outcome
	v.Message = message
	r.state = terminal
	r.emit(Event{Type: EventCompleted, Passed: outcome.Authentic(), Detail: string(outcome)})
	return v
}
