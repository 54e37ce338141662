package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"invoiceguard/internal/logger"
)

// EventType distinguishes observer events.
type EventType string

const (
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventDecision      EventType = "decision"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Event is emitted by the orchestrator as a run advances.
type Event struct {
	Type     EventType
	RunID    string
	Stage    Stage
	State    State
	Duration time.Duration

	// Passed is set on decision and completed events.
	Passed bool

	// Detail is a short decision summary, e.g. missing fields.
	Detail string

	// Err is set on failed events.
	Err error
}

// Observer receives run events. Implementations must be safe for concurrent
// use when the pipeline is shared between runs.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// NopObserver discards events.
type NopObserver struct{}

// Observe implements Observer.
func (NopObserver) Observe(Event) {}

// LogObserver writes events to zerolog.
type LogObserver struct {
	log zerolog.Logger
}

// NewLogObserver returns an observer logging under the pipeline component.
func NewLogObserver() *LogObserver {
	return &LogObserver{log: logger.WithComponent("pipeline")}
}

// Observe implements Observer.
func (o *LogObserver) Observe(e Event) {
	var ev *zerolog.Event
	switch e.Type {
	case EventFailed:
		ev = o.log.Error().Err(e.Err)
	case EventCompleted:
		ev = o.log.Info().Bool("passed", e.Passed)
	case EventDecision:
		ev = o.log.Debug().Bool("passed", e.Passed)
	default:
		ev = o.log.Debug()
	}

	ev = ev.Str("run_id", e.RunID).
		Str("event", string(e.Type)).
		Str("stage", string(e.Stage)).
		Str("state", string(e.State))
	if e.Duration > 0 {
		ev = ev.Dur("duration", e.Duration)
	}
	if e.Detail != "" {
		ev = ev.Str("detail", e.Detail)
	}
	ev.Msg("Pipeline event")
}
