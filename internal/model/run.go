package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage is one discrete step of processing a profile within a run.
type Stage string

const (
	StageInit     Stage = "init"
	StageTOCFetch Stage = "toc_fetch"
	StagePDFGen   Stage = "pdf_gen"
	StageOCR      Stage = "ocr"
	StageComplete Stage = "complete"

	// StageSystem labels orchestrator-level events that carry no profile.
	StageSystem Stage = "system"
)

// EventStatus classifies a stage event for display and status derivation.
type EventStatus string

const (
	EventInfo    EventStatus = "info"
	EventWarning EventStatus = "warning"
	EventError   EventStatus = "error"
	EventSuccess EventStatus = "success"
)

// StageEvent is a single progress message emitted during a run.
// Profile is empty for system-level events, which are broadcast live but
// not persisted in the per-profile run log.
type StageEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Profile   string      `json:"profile"`
	Stage     Stage       `json:"stage"`
	Message   string      `json:"message"`
	Status    EventStatus `json:"status"`
}

// RunStatus is the finalized outcome of a run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// RunRecord is the durable result of one update run. The ID is assigned when
// the run starts; the record is written exactly once, when the run finalizes,
// and is immutable afterwards. Profiles are referenced by name only — deleting
// a profile leaves past records untouched.
type RunRecord struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Profiles  []string  `json:"profiles"`
	Status    RunStatus `json:"status"`
	// Logs holds the ordered stage events per profile, oldest first.
	Logs       map[string][]StageEvent `json:"logs"`
	PDFCreated bool                    `json:"pdf_created"`
}

// RunSummary is the listing view of a RunRecord, without the event logs.
type RunSummary struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Profiles   []string  `json:"profiles"`
	Status     RunStatus `json:"status"`
	PDFCreated bool      `json:"pdf_created"`
}

// DeriveStatus computes the overall run status from the per-profile logs:
// success only if every attempted profile's log ends in a success event.
func (r RunRecord) DeriveStatus() RunStatus {
	for _, events := range r.Logs {
		if len(events) == 0 {
			return RunStatusError
		}
		if events[len(events)-1].Status != EventSuccess {
			return RunStatusError
		}
	}
	return RunStatusSuccess
}
