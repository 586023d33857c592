// Package update orchestrates AIP update runs.
//
// A run walks every selected profile through the stage pipeline
// init → toc_fetch → pdf_gen → ocr → complete, invoking the external tool
// at each stage. Exactly one run may be active at a time; the single-slot
// lock is owned here and exposed only as TryAcquire/Release. Stage progress
// is published live to the broadcaster and, once the run finalizes, persisted
// as an immutable run record.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/aerodocs/aipdeck/internal/aiptool"
	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
)

// ErrAlreadyRunning is returned when a trigger arrives while a run (or a
// cleanup holding the same lock) is in progress. Surfaced as a conflict,
// never queued or retried.
var ErrAlreadyRunning = errors.New("update: already running")

// ErrInsufficientSpace is returned when the output filesystem is below the
// configured free-space floor.
var ErrInsufficientSpace = errors.New("update: insufficient disk space")

var meter = otel.GetMeterProvider().Meter("aipdeck/update")

// profileState tracks one profile's progress through a run.
// Terminal states are success and error.
type profileState string

const (
	statePending profileState = "pending"
	stateRunning profileState = "running"
	stateSuccess profileState = "success"
	stateError   profileState = "error"
)

// Broadcaster receives live stage events. One producer (the orchestrator),
// any number of consumers.
type Broadcaster interface {
	Publish(ev model.StageEvent)
}

// Orchestrator sequences update runs across profiles.
type Orchestrator struct {
	store  *storage.DB
	docs   *docstore.Store
	tool   aiptool.Tool
	caster Broadcaster
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(store *storage.DB, docs *docstore.Store, tool aiptool.Tool, caster Broadcaster, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		docs:   docs,
		tool:   tool,
		caster: caster,
		logger: logger,
	}
}

// Running reports whether a run (or cleanup) currently holds the lock.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// TryAcquire takes the single-slot run lock, or fails with ErrAlreadyRunning.
// Callers other than Trigger (the cleanup handler) use this to exclude
// maintenance from in-progress runs.
func (o *Orchestrator) TryAcquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	return nil
}

// Release frees the run lock.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Wait blocks until the in-flight run, if any, has finished. Used during
// graceful shutdown so a run is never cut off mid-profile.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Trigger starts an update run and returns immediately with the run id.
// An empty profile name selects all enabled profiles in store order; a
// non-empty name selects exactly that profile, enabled or not. Fails with
// ErrAlreadyRunning when the lock is held and ErrInsufficientSpace when the
// output filesystem is below the free-space floor; either failure leaves no
// trace in the run history.
func (o *Orchestrator) Trigger(ctx context.Context, profile string) (uuid.UUID, error) {
	if err := o.TryAcquire(); err != nil {
		return uuid.Nil, err
	}

	ok, free, err := o.docs.CheckFreeSpace()
	if err != nil {
		o.logger.Warn("disk space check failed, proceeding", "error", err)
	} else if !ok {
		o.Release()
		return uuid.Nil, fmt.Errorf("%w: %.2f GB free", ErrInsufficientSpace, gb(free))
	}

	profiles, err := o.selectProfiles(ctx, profile)
	if err != nil {
		o.Release()
		return uuid.Nil, err
	}

	st := &runState{
		id:        uuid.New(),
		startedAt: time.Now().UTC(),
		profiles:  profiles,
		logs:      make(map[string][]model.StageEvent),
		freeBytes: free,
	}

	o.wg.Add(1)
	go o.run(st)
	return st.id, nil
}

// selectProfiles resolves the trigger target. Disabled profiles are excluded
// from "all" selections but may be targeted explicitly by name.
func (o *Orchestrator) selectProfiles(ctx context.Context, name string) ([]model.Profile, error) {
	if name != "" {
		p, err := o.store.GetProfile(ctx, name)
		if err != nil {
			return nil, err
		}
		return []model.Profile{p}, nil
	}

	all, err := o.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, p := range all {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// runState is the in-memory record of an in-progress run.
type runState struct {
	id         uuid.UUID
	startedAt  time.Time
	profiles   []model.Profile
	logs       map[string][]model.StageEvent
	states     map[string]profileState
	pdfCreated bool
	freeBytes  uint64
}

// run executes the whole update in the background. The run lock is released
// on every exit path, including panics, and the record is always finalized.
func (o *Orchestrator) run(st *runState) {
	// External tool invocations are opaque blocking calls with no
	// cancellation hook; the run always proceeds to completion.
	ctx := context.Background()
	start := time.Now()

	defer o.wg.Done()
	defer o.Release()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run panicked", "run_id", st.id, "panic", r)
			o.emit(st, "", model.StageSystem, fmt.Sprintf("Fatal error: %v", r), model.EventError)
			o.finalize(ctx, st, start)
		}
	}()

	o.emit(st, "", model.StageSystem, "Starting update process", model.EventInfo)
	if st.freeBytes > 0 {
		o.emit(st, "", model.StageSystem, fmt.Sprintf("Disk space: %.2f GB available", gb(st.freeBytes)), model.EventInfo)
	}
	o.emit(st, "", model.StageSystem, fmt.Sprintf("Found %d profile(s) to process", len(st.profiles)), model.EventInfo)

	st.states = make(map[string]profileState, len(st.profiles))
	for _, p := range st.profiles {
		st.states[p.Name] = statePending
	}

	// One profile at a time. Failure is isolated: a failed profile ends in
	// stateError and the loop moves on.
	for _, p := range st.profiles {
		st.states[p.Name] = stateRunning
		if o.processProfile(ctx, st, p) {
			st.states[p.Name] = stateSuccess
		} else {
			st.states[p.Name] = stateError
		}
	}

	o.finalize(ctx, st, start)
}

// finalize persists the run record, emits the terminal system event, and
// records run metrics. Safe to call from the panic path.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, start time.Time) {
	rec := model.RunRecord{
		ID:         st.id,
		Timestamp:  st.startedAt,
		Profiles:   profileNames(st.profiles),
		Logs:       st.logs,
		PDFCreated: st.pdfCreated,
	}
	rec.Status = rec.DeriveStatus()

	if err := o.store.SaveRun(ctx, rec); err != nil {
		o.logger.Error("failed to persist run record", "run_id", st.id, "error", err)
	}

	o.emit(st, "", model.StageSystem, finishedMessage(st.states), model.EventInfo)

	if counter, err := meter.Int64Counter("aipdeck.runs_total"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(statusAttr(rec.Status)))
	}
	if hist, err := meter.Float64Histogram("aipdeck.run_duration", otelmetric.WithUnit("s")); err == nil {
		hist.Record(ctx, time.Since(start).Seconds(), otelmetric.WithAttributes(statusAttr(rec.Status)))
	}
	o.logger.Info("run finished", "run_id", st.id, "status", rec.Status,
		"duration", time.Since(start).Round(time.Millisecond))
}

// processProfile advances one profile through all stages. Returns true when
// every stage succeeded. The first failing stage emits an error event and
// aborts the remaining stages for this profile.
func (o *Orchestrator) processProfile(ctx context.Context, st *runState, p model.Profile) bool {
	name := p.Name
	o.emit(st, name, model.StageInit, "Starting profile processing", model.EventInfo)

	if err := o.docs.EnsureProfileDir(name); err != nil {
		o.emit(st, name, model.StageInit, "Failed: "+err.Error(), model.EventError)
		return false
	}

	o.emit(st, name, model.StageTOCFetch, fmt.Sprintf("Fetching TOC (%s)", upper(p.FlightRule)), model.EventInfo)
	if err := o.tool.FetchTOC(ctx, p.FlightRule); err != nil {
		o.emit(st, name, model.StageTOCFetch, "Failed: "+err.Error(), model.EventError)
		return false
	}
	o.emit(st, name, model.StageTOCFetch, "TOC fetched successfully", model.EventSuccess)

	cycle, err := o.tool.CurrentCycle(ctx, p.FlightRule)
	if err != nil {
		o.emit(st, name, model.StageInit, "No AIRAC cycles found", model.EventWarning)
		o.emit(st, name, model.StageInit, "Failed: "+err.Error(), model.EventError)
		return false
	}
	o.emit(st, name, model.StageInit, "AIRAC date: "+cycle, model.EventInfo)

	pdfPath, ocrPath := o.docs.ArtifactPaths(name, cycle)

	if fileExists(pdfPath) {
		o.emit(st, name, model.StagePDFGen, "PDF already exists", model.EventInfo)
	} else {
		o.emit(st, name, model.StagePDFGen, "Generating PDF", model.EventInfo)
		st.pdfCreated = true
		pages := 0
		err := o.tool.GeneratePDF(ctx, p.FlightRule, p.Filters, pdfPath, func(page string) {
			pages++
			o.emit(st, name, model.StagePDFGen, fmt.Sprintf("Downloaded page %d: %s", pages, page), model.EventInfo)
		})
		if err != nil {
			o.emit(st, name, model.StagePDFGen, "Failed: "+err.Error(), model.EventError)
			return false
		}
		o.emit(st, name, model.StagePDFGen, fmt.Sprintf("PDF complete (%.1f MB)", mb(pdfPath)), model.EventSuccess)
	}

	if fileExists(ocrPath) {
		o.emit(st, name, model.StageOCR, "OCR PDF already exists", model.EventSuccess)
	} else {
		o.emit(st, name, model.StageOCR, fmt.Sprintf("Starting OCR: %s", pdfPath), model.EventInfo)
		err := o.tool.OCR(ctx, pdfPath, ocrPath, func(line string) {
			o.emit(st, name, model.StageOCR, line, model.EventInfo)
		})
		if err != nil {
			o.emit(st, name, model.StageOCR, "Failed: "+err.Error(), model.EventError)
			return false
		}
		o.emit(st, name, model.StageOCR, fmt.Sprintf("OCR complete (%.1f MB)", mb(ocrPath)), model.EventSuccess)
	}

	o.emit(st, name, model.StageComplete, "Profile processing complete", model.EventSuccess)
	return true
}

// emit records a stage event: appended to the run log when it belongs to a
// profile, published live either way.
func (o *Orchestrator) emit(st *runState, profile string, stage model.Stage, message string, status model.EventStatus) {
	ev := model.StageEvent{
		Timestamp: time.Now().UTC(),
		Profile:   profile,
		Stage:     stage,
		Message:   message,
		Status:    status,
	}
	if profile != "" {
		st.logs[profile] = append(st.logs[profile], ev)
	}
	if o.caster != nil {
		o.caster.Publish(ev)
	}
	o.logger.Info("stage event", "run_id", st.id, "profile", profile,
		"stage", stage, "status", status, "message", message)
}

// finishedMessage summarizes per-profile outcomes for the terminal system
// event. The states map is nil when the run panicked before processing
// started; the plain message is all there is to say then.
func finishedMessage(states map[string]profileState) string {
	if len(states) == 0 {
		return "Update process finished"
	}
	succeeded := 0
	for _, s := range states {
		if s == stateSuccess {
			succeeded++
		}
	}
	return fmt.Sprintf("Update process finished: %d/%d profile(s) succeeded", succeeded, len(states))
}

func statusAttr(s model.RunStatus) attribute.KeyValue {
	return attribute.String("status", string(s))
}

func profileNames(profiles []model.Profile) []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func mb(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}

func gb(bytes uint64) float64 {
	return float64(bytes) / (1024 * 1024 * 1024)
}

func upper(r model.FlightRule) string {
	switch r {
	case model.FlightRuleVFR:
		return "VFR"
	case model.FlightRuleIFR:
		return "IFR"
	}
	return string(r)
}
