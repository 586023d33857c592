package aiptool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerodocs/aipdeck/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptCLI returns a CLI whose "python script" is a shell script with the
// given body, so the process contract can be exercised without the real tool.
func scriptCLI(t *testing.T, body string) *CLI {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fake-aip.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return NewCLI("/bin/sh", script, "/bin/sh", t.TempDir(), 2, testLogger())
}

func TestCurrentCycleParsesFirstLine(t *testing.T) {
	cli := scriptCLI(t, `echo "VFR 2026-08-07 current"
echo "VFR 2026-07-10"`)

	cycle, err := cli.CurrentCycle(context.Background(), model.FlightRuleVFR)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-07", cycle)
}

func TestCurrentCycleEmptyOutput(t *testing.T) {
	cli := scriptCLI(t, "true")

	_, err := cli.CurrentCycle(context.Background(), model.FlightRuleVFR)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AIRAC cycles found")
}

func TestFetchTOCFailureCarriesStderr(t *testing.T) {
	cli := scriptCLI(t, `echo "connection refused" >&2
exit 1`)

	err := cli.FetchTOC(context.Background(), model.FlightRuleIFR)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toc fetch failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGeneratePDFStreamsPages(t *testing.T) {
	cli := scriptCLI(t, `echo "GEN-0.1"
echo "AD-2.EDDF"
echo ""`)

	var pages []string
	err := cli.GeneratePDF(context.Background(), model.FlightRuleVFR, []string{"GEN-*"}, "/dev/null", func(p string) {
		pages = append(pages, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"GEN-0.1", "AD-2.EDDF"}, pages)
}

func TestGeneratePDFFailure(t *testing.T) {
	cli := scriptCLI(t, `echo "partial page"
echo "download aborted" >&2
exit 3`)

	err := cli.GeneratePDF(context.Background(), model.FlightRuleVFR, nil, "/dev/null", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf generation failed")
	assert.Contains(t, err.Error(), "download aborted")
}

func TestCmdErrorTruncatesStderr(t *testing.T) {
	long := strings.Repeat("x", errTailLen+50)
	got := cmdError(errors.New("exit status 1"), []byte(long))
	assert.Contains(t, got, "exit status 1")
	// The stderr excerpt is bounded, the exit status prefix is not.
	assert.LessOrEqual(t, len(got), errTailLen+len("exit status 1: "))
}

func TestCmdErrorEmptyStderr(t *testing.T) {
	got := cmdError(errors.New("exit status 1"), []byte("  \n"))
	assert.Equal(t, "exit status 1", got)
}
