// Package aiptool invokes the external AIP scraping tool and the OCR
// pipeline as subprocesses.
//
// The tool is a black box with a stage-boundary contract: it fetches the
// publication table of contents, reports the current AIRAC cycle, and
// produces PDF artifacts. Success or failure is signalled purely by process
// exit status and stderr text; nothing here parses the tool's internals.
package aiptool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/aerodocs/aipdeck/internal/model"
)

// Tool is the contract the orchestrator depends on. It is satisfied by CLI
// in production and by fakes in tests.
type Tool interface {
	// FetchTOC updates the local table-of-contents cache for a flight rule.
	FetchTOC(ctx context.Context, rule model.FlightRule) error

	// CurrentCycle returns the newest AIRAC cycle identifier in the cache.
	CurrentCycle(ctx context.Context, rule model.FlightRule) (string, error)

	// GeneratePDF produces the summary PDF at output, calling onPage for
	// every page name the tool reports on stdout while downloading.
	GeneratePDF(ctx context.Context, rule model.FlightRule, filters []string, output string, onPage func(page string)) error

	// OCR produces a searchable variant of input at output, calling onLine
	// for each progress line the OCR tool writes to stderr.
	OCR(ctx context.Context, input, output string, onLine func(line string)) error
}

// CLI runs the real aip.py and ocrmypdf binaries.
type CLI struct {
	Python   string // Python interpreter, e.g. "python3".
	Script   string // Path to aip.py.
	OCRBin   string // Path to ocrmypdf.
	CacheDir string // Table-of-contents cache directory.
	OCRJobs  int    // Parallel OCR workers.
	Logger   *slog.Logger
}

// errTailLen bounds how much stderr is carried into error messages.
const errTailLen = 200

// NewCLI creates a CLI adapter.
func NewCLI(python, script, ocrBin, cacheDir string, ocrJobs int, logger *slog.Logger) *CLI {
	return &CLI{
		Python:   python,
		Script:   script,
		OCRBin:   ocrBin,
		CacheDir: cacheDir,
		OCRJobs:  ocrJobs,
		Logger:   logger,
	}
}

// FetchTOC runs `aip.py toc fetch --vfr|--ifr`.
func (c *CLI) FetchTOC(ctx context.Context, rule model.FlightRule) error {
	cmd := exec.CommandContext(ctx, c.Python, c.Script, "--cache", c.CacheDir,
		"toc", "fetch", "--"+string(rule))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	c.Logger.Debug("aiptool: toc fetch", "rule", rule)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("toc fetch failed: %s", cmdError(err, stderr.Bytes()))
	}
	return nil
}

// CurrentCycle runs `aip.py toc list` and returns the cycle date from the
// first output line (second whitespace-separated column).
func (c *CLI) CurrentCycle(ctx context.Context, rule model.FlightRule) (string, error) {
	cmd := exec.CommandContext(ctx, c.Python, c.Script, "--cache", c.CacheDir,
		"toc", "list", "--"+string(rule))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("toc list failed: %s", cmdError(err, stderr.Bytes()))
	}

	line, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", fmt.Errorf("no AIRAC cycles found")
	}
	return fields[1], nil
}

// GeneratePDF runs `aip.py pdf --output ... summary` with the profile's
// filters, streaming downloaded page names from stdout.
func (c *CLI) GeneratePDF(ctx context.Context, rule model.FlightRule, filters []string, output string, onPage func(page string)) error {
	args := []string{"-u", c.Script, "--cache", c.CacheDir,
		"pdf", "--output", output, "summary", "--" + string(rule)}
	for _, f := range filters {
		args = append(args, "-f", f)
	}

	cmd := exec.CommandContext(ctx, c.Python, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pdf generation: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pdf generation: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if page := strings.TrimSpace(scanner.Text()); page != "" && onPage != nil {
			onPage(page)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pdf generation failed: %s", cmdError(err, stderr.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("pdf generation: read output: %w", err)
	}
	return nil
}

// OCR runs ocrmypdf, streaming its stderr progress lines.
func (c *CLI) OCR(ctx context.Context, input, output string, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, c.OCRBin,
		"--jobs", fmt.Sprint(c.OCRJobs), "--verbose", "1", input, output)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}

	// ocrmypdf reports progress on stderr; keep a tail for error reporting.
	var tail []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > 10 {
			tail = tail[1:]
		}
		if onLine != nil {
			onLine(line)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ocr failed: %s: %s", err, strings.Join(tail, "; "))
	}
	return nil
}

// cmdError renders a subprocess failure with a bounded stderr excerpt.
func cmdError(err error, stderr []byte) string {
	msg := strings.TrimSpace(string(stderr))
	if len(msg) > errTailLen {
		msg = msg[:errTailLen]
	}
	if msg == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", err, msg)
}
