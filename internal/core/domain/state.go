package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies a unit of pipeline work.
type Stage string

// Pipeline stages.
const (
	StageOCR        Stage = "ocr"
	StageIndexing   Stage = "indexing"
	StageExtraction Stage = "extraction"
)

// AllStages returns the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{StageOCR, StageIndexing, StageExtraction}
}

// IsValid returns true if the stage is recognised.
func (s Stage) IsValid() bool {
	switch s {
	case StageOCR, StageIndexing, StageExtraction:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (s Stage) String() string {
	return string(s)
}

// StageState is the progress of a single stage.
type StageState string

// Stage progress values.
const (
	StagePending StageState = "pending"
	StageRunning StageState = "running"
	StageDone    StageState = "done"
	StageFailed  StageState = "failed"
)

// StageStatus records the progress of one stage.
type StageStatus struct {
	State     StageState
	Attempts  int
	UpdatedAt time.Time
}

// PipelineState is the coarse position of a document in the pipeline.
type PipelineState string

// Pipeline states.
const (
	StateUploaded             PipelineState = "uploaded"
	StateOCRInProgress        PipelineState = "ocr_in_progress"
	StateOCRComplete          PipelineState = "ocr_complete"
	StateIndexingInProgress   PipelineState = "indexing_in_progress"
	StateExtractionInProgress PipelineState = "extraction_in_progress"
	StateReady                PipelineState = "ready"
	StateFailed               PipelineState = "failed"
)

// IsTerminal returns true for Ready and Failed.
func (s PipelineState) IsTerminal() bool {
	return s == StateReady || s == StateFailed
}

// String returns the string representation.
func (s PipelineState) String() string {
	return string(s)
}

// Status is the persisted state machine of a document.
// Only the pipeline orchestrator mutates it.
type Status struct {
	// State is derived from Stages and cached for queries.
	State PipelineState

	// Stages holds per-stage progress.
	Stages map[Stage]StageStatus

	// IndexModel is the embedding model id used to build the index.
	IndexModel string

	// RecordRunID identifies the extraction run of the current record.
	RecordRunID string

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time
}

// NewStatus returns the status of a freshly uploaded document.
func NewStatus(now time.Time) Status {
	s := Status{Stages: make(map[Stage]StageStatus), UpdatedAt: now}
	for _, st := range AllStages() {
		s.Stages[st] = StageStatus{State: StagePending, UpdatedAt: now}
	}
	s.State = s.Derive()
	return s
}

// Stage returns the progress of a stage. Missing stages are pending.
func (s Status) Stage(stage Stage) StageStatus {
	if st, ok := s.Stages[stage]; ok && st.State != "" {
		return st
	}
	return StageStatus{State: StagePending}
}

// FailedStages returns the failed stages in pipeline order.
func (s Status) FailedStages() []Stage {
	var failed []Stage
	for _, st := range AllStages() {
		if s.Stage(st).State == StageFailed {
			failed = append(failed, st)
		}
	}
	return failed
}

// Running reports whether any stage is running.
func (s Status) Running() bool {
	for _, st := range AllStages() {
		if s.Stage(st).State == StageRunning {
			return true
		}
	}
	return false
}

// Derive computes the pipeline state from stage progress.
// Post-OCR failures surface only once no stage is running, which is the
// join point of the indexing and extraction branches.
func (s Status) Derive() PipelineState {
	switch s.Stage(StageOCR).State {
	case StageRunning:
		return StateOCRInProgress
	case StageFailed:
		return StateFailed
	case StageDone:
	default:
		return StateUploaded
	}

	idx := s.Stage(StageIndexing).State
	ext := s.Stage(StageExtraction).State
	switch {
	case idx == StageRunning:
		return StateIndexingInProgress
	case ext == StageRunning:
		return StateExtractionInProgress
	case idx == StageFailed || ext == StageFailed:
		return StateFailed
	case idx == StageDone && ext == StageDone:
		return StateReady
	default:
		return StateOCRComplete
	}
}

// Label renders the state, naming failed stages as failed(stage).
func (s Status) Label() string {
	state := s.Derive()
	if state != StateFailed {
		return state.String()
	}
	var names []string
	for _, st := range s.FailedStages() {
		names = append(names, st.String())
	}
	return fmt.Sprintf("%s(%s)", state, strings.Join(names, ","))
}

// Begin moves a stage to running.
func (s *Status) Begin(stage Stage, now time.Time) error {
	cur := s.Stage(stage)
	switch {
	case !stage.IsValid():
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	case cur.State == StageRunning || cur.State == StageDone:
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, stage, cur.State)
	case stage != StageOCR && s.Stage(StageOCR).State != StageDone:
		return fmt.Errorf("%w: %s requires completed ocr", ErrInvalidTransition, stage)
	}
	s.set(stage, StageStatus{State: StageRunning, Attempts: cur.Attempts + 1, UpdatedAt: now})
	return nil
}

// Complete moves a running stage to done.
func (s *Status) Complete(stage Stage, now time.Time) error {
	return s.finish(stage, StageDone, now)
}

// Fail moves a running stage to failed.
func (s *Status) Fail(stage Stage, now time.Time) error {
	return s.finish(stage, StageFailed, now)
}

// Reopen returns a finished post-OCR stage to pending so it can run again.
func (s *Status) Reopen(stage Stage, now time.Time) error {
	cur := s.Stage(stage)
	if stage == StageOCR || !stage.IsValid() {
		return fmt.Errorf("%w: %s cannot be reopened", ErrInvalidTransition, stage)
	}
	if cur.State == StageRunning {
		return fmt.Errorf("%w: %s is running", ErrInvalidTransition, stage)
	}
	s.set(stage, StageStatus{State: StagePending, Attempts: cur.Attempts, UpdatedAt: now})
	return nil
}

func (s *Status) finish(stage Stage, to StageState, now time.Time) error {
	cur := s.Stage(stage)
	if cur.State != StageRunning {
		return fmt.Errorf("%w: %s is %s, not running", ErrInvalidTransition, stage, cur.State)
	}
	s.set(stage, StageStatus{State: to, Attempts: cur.Attempts, UpdatedAt: now})
	return nil
}

func (s *Status) set(stage Stage, st StageStatus) {
	if s.Stages == nil {
		s.Stages = make(map[Stage]StageStatus)
	}
	s.Stages[stage] = st
	s.UpdatedAt = st.UpdatedAt
	s.State = s.Derive()
}
