package update

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTool is a scriptable Tool. Per-profile behavior is keyed on the output
// path for PDF generation and OCR; the cycle is fixed.
type fakeTool struct {
	mu sync.Mutex

	cycle      string
	cycleErr   error
	fetchErr   error
	pdfErr     map[string]error // keyed by profile name
	ocrErr     map[string]error
	blockFetch chan struct{} // when set, FetchTOC blocks until closed

	fetchCalls int
	pdfCalls   []string
	ocrCalls   []string
}

func (f *fakeTool) FetchTOC(ctx context.Context, rule model.FlightRule) error {
	if f.blockFetch != nil {
		<-f.blockFetch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.fetchErr
}

func (f *fakeTool) CurrentCycle(ctx context.Context, rule model.FlightRule) (string, error) {
	if f.cycleErr != nil {
		return "", f.cycleErr
	}
	if f.cycle == "" {
		return "2026-08-07", nil
	}
	return f.cycle, nil
}

func (f *fakeTool) GeneratePDF(ctx context.Context, rule model.FlightRule, filters []string, output string, onPage func(string)) error {
	profile := profileFromPath(output)
	f.mu.Lock()
	f.pdfCalls = append(f.pdfCalls, profile)
	err := f.pdfErr[profile]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	onPage("GEN-0.1")
	return os.WriteFile(output, []byte("%PDF-1.4"), 0o644)
}

func (f *fakeTool) OCR(ctx context.Context, input, output string, onLine func(string)) error {
	profile := profileFromPath(output)
	f.mu.Lock()
	f.ocrCalls = append(f.ocrCalls, profile)
	err := f.ocrErr[profile]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(output, []byte("%PDF-1.4"), 0o644)
}

func profileFromPath(output string) string {
	return filepath.Base(filepath.Dir(output))
}

// collector records every published event.
type collector struct {
	mu     sync.Mutex
	events []model.StageEvent
}

func (c *collector) Publish(ev model.StageEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) byProfile(name string) []model.StageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.StageEvent
	for _, ev := range c.events {
		if ev.Profile == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *collector) systemMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if ev.Profile == "" {
			out = append(out, ev.Message)
		}
	}
	return out
}

type fixture struct {
	orch *Orchestrator
	db   *storage.DB
	docs *docstore.Store
	tool *fakeTool
	cast *collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()
	db, err := storage.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	docs := docstore.New(filepath.Join(t.TempDir(), "output"), filepath.Join(t.TempDir(), "cache"), 0, logger)
	require.NoError(t, docs.EnsureDirs())

	tool := &fakeTool{pdfErr: map[string]error{}, ocrErr: map[string]error{}}
	cast := &collector{}
	return &fixture{
		orch: New(db, docs, tool, cast, logger),
		db:   db,
		docs: docs,
		tool: tool,
		cast: cast,
	}
}

func (fx *fixture) addProfile(t *testing.T, name string, enabled bool) {
	t.Helper()
	p := model.Profile{Name: name, FlightRule: model.FlightRuleVFR, Filters: []string{"GEN-*"}, Enabled: enabled}
	require.NoError(t, fx.db.CreateProfile(context.Background(), p))
}

func TestTriggerProcessesEnabledProfiles(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)
	fx.addProfile(t, "bravo", true)
	fx.addProfile(t, "charlie", false)

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	fx.orch.Wait()

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo"}, rec.Profiles)
	assert.Equal(t, model.RunStatusSuccess, rec.Status)
	assert.True(t, rec.PDFCreated)

	// Each processed profile's log ends with the completion event.
	for _, name := range rec.Profiles {
		events := rec.Logs[name]
		require.NotEmpty(t, events, "profile %s", name)
		last := events[len(events)-1]
		assert.Equal(t, model.StageComplete, last.Stage)
		assert.Equal(t, model.EventSuccess, last.Status)
	}

	// The disabled profile was never touched.
	assert.Empty(t, rec.Logs["charlie"])
	assert.NotContains(t, fx.tool.pdfCalls, "charlie")
}

func TestTriggerExplicitDisabledProfile(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "charlie", false)

	id, err := fx.orch.Trigger(context.Background(), "charlie")
	require.NoError(t, err)
	fx.orch.Wait()

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie"}, rec.Profiles)
	assert.Equal(t, model.RunStatusSuccess, rec.Status)
}

func TestTriggerUnknownProfile(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Trigger(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	// The failed trigger released the lock and left no history.
	assert.False(t, fx.orch.Running())
	runs, err := fx.db.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestTriggerWhileRunning(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)

	block := make(chan struct{})
	fx.tool.blockFetch = block

	_, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)

	// Second trigger while the first is blocked inside the tool.
	_, err = fx.orch.Trigger(context.Background(), "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, fx.orch.Running())

	close(block)
	fx.orch.Wait()
	assert.False(t, fx.orch.Running())

	// Only the first trigger left a record.
	runs, err := fx.db.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestProfileFailureIsIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)
	fx.addProfile(t, "bravo", true)
	fx.tool.pdfErr["alpha"] = errors.New("download failed")

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, rec.Status)

	// alpha stops at pdf_gen with an error event and never reaches ocr.
	events := rec.Logs["alpha"]
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.StagePDFGen, last.Stage)
	assert.Equal(t, model.EventError, last.Status)
	for _, ev := range events {
		assert.NotEqual(t, model.StageOCR, ev.Stage)
		assert.NotEqual(t, model.StageComplete, ev.Stage)
	}

	// bravo is unaffected and completes.
	bravoEvents := rec.Logs["bravo"]
	require.NotEmpty(t, bravoEvents)
	assert.Equal(t, model.StageComplete, bravoEvents[len(bravoEvents)-1].Stage)
	assert.Contains(t, fx.tool.pdfCalls, "bravo")

	// The terminal system event carries the per-profile tally.
	assert.Contains(t, fx.cast.systemMessages(),
		"Update process finished: 1/2 profile(s) succeeded")
}

func TestOCRFailureFailsProfile(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)
	fx.tool.ocrErr["alpha"] = errors.New("tesseract crashed")

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, rec.Status)
	events := rec.Logs["alpha"]
	require.NotEmpty(t, events)
	assert.Equal(t, model.StageOCR, events[len(events)-1].Stage)
	assert.Equal(t, model.EventError, events[len(events)-1].Status)
}

func TestSkipExistingArtifacts(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)

	// Pre-create both artifacts for the current cycle.
	require.NoError(t, fx.docs.EnsureProfileDir("alpha"))
	pdf, ocr := fx.docs.ArtifactPaths("alpha", "2026-08-07")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(ocr, []byte("%PDF-1.4"), 0o644))

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	assert.Empty(t, fx.tool.pdfCalls)
	assert.Empty(t, fx.tool.ocrCalls)

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, rec.Status)
	assert.False(t, rec.PDFCreated)
}

func TestNoCycleFailsProfile(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)
	fx.tool.cycleErr = errors.New("no cycles in cache")

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, rec.Status)

	// The warning precedes the terminal error event.
	events := fx.cast.byProfile("alpha")
	var sawWarning bool
	for _, ev := range events {
		if ev.Status == model.EventWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning)
}

func TestTerminalSystemEventEmittedOnce(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)

	_, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	msgs := fx.cast.systemMessages()
	var finished int
	for _, m := range msgs {
		if strings.HasPrefix(m, "Update process finished") {
			finished++
			assert.Equal(t, "Update process finished: 1/1 profile(s) succeeded", m)
		}
	}
	assert.Equal(t, 1, finished)
	// System events are broadcast only, never persisted per profile.
	runs, err := fx.db.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	rec, err := fx.db.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	for profile := range rec.Logs {
		assert.NotEmpty(t, profile)
	}
}

func TestCleanupLockBlocksTrigger(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)

	require.NoError(t, fx.orch.TryAcquire())
	_, err := fx.orch.Trigger(context.Background(), "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	fx.orch.Release()
	_, err = fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()
}

type panicTool struct {
	fakeTool
}

func (p *panicTool) FetchTOC(ctx context.Context, rule model.FlightRule) error {
	panic("tool blew up")
}

func TestPanicReleasesLockAndFinalizes(t *testing.T) {
	fx := newFixture(t)
	fx.addProfile(t, "alpha", true)
	fx.orch.tool = &panicTool{}

	id, err := fx.orch.Trigger(context.Background(), "")
	require.NoError(t, err)
	fx.orch.Wait()

	assert.False(t, fx.orch.Running())

	rec, err := fx.db.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, rec.Status)

	var sawFatal bool
	for _, m := range fx.cast.systemMessages() {
		if m == "Fatal error: tool blew up" {
			sawFatal = true
		}
	}
	assert.True(t, sawFatal)
}

func TestWaitReturnsPromptlyWhenIdle(t *testing.T) {
	fx := newFixture(t)
	done := make(chan struct{})
	go func() {
		fx.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no run in flight")
	}
}
