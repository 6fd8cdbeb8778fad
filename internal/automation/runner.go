package automation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/autoapply/autoapply/internal/db"
)

// JobApplyScript is the worker entry point for job application runs,
// resolved relative to the configured script directory.
const JobApplyScript = "apply_job_rpa.py"

// WorkerRequest is the single JSON object written to the worker's stdin.
type WorkerRequest struct {
	JobURL        string                  `json:"jobUrl"`
	Resume        *db.ResumeSnapshot      `json:"resume"`
	CoverLetter   *db.CoverLetterSnapshot `json:"coverLetter"`
	CustomAnswers map[string]string       `json:"customAnswers"`
	SelectorMap   map[string][]string     `json:"selectorMap"`
	Settings      db.AutomationSettings   `json:"settings"`
}

// WorkerStep is one entry of the worker result's step log.
type WorkerStep struct {
	Action  string `json:"action"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WorkerResult is the single JSON object the worker writes to stdout.
// Screenshots are absolute source paths on the worker's filesystem; the
// artifact manager copies them into the managed run directory.
type WorkerResult struct {
	Success     bool         `json:"success"`
	Error       *string      `json:"error"`
	Screenshots []string     `json:"screenshots"`
	Steps       []WorkerStep `json:"steps"`
}

// ProgressEvent is an intermediate notification emitted by the worker on
// its side channel while a run executes. All fields are optional but at
// least one must be set for the event to be relayed.
type ProgressEvent struct {
	Step       *int   `json:"step,omitempty"`
	TotalSteps *int   `json:"totalSteps,omitempty"`
	Status     string `json:"status,omitempty"`
	Action     string `json:"action,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Meaningful reports whether the event carries at least one field.
func (e ProgressEvent) Meaningful() bool {
	return e.Step != nil || e.TotalSteps != nil || e.Status != "" || e.Action != "" || e.Message != ""
}

// Normalized returns the event with numeric fields forced into sane ranges:
// negative values become zero and a step beyond totalSteps is clamped. A
// worker emitting one bad progress event must not fail the run.
func (e ProgressEvent) Normalized() ProgressEvent {
	out := e
	if out.Step != nil && *out.Step < 0 {
		zero := 0
		out.Step = &zero
	}
	if out.TotalSteps != nil && *out.TotalSteps < 0 {
		zero := 0
		out.TotalSteps = &zero
	}
	if out.Step != nil && out.TotalSteps != nil && *out.TotalSteps > 0 && *out.Step > *out.TotalSteps {
		clamped := *out.TotalSteps
		out.Step = &clamped
	}
	return out
}

// ProgressFunc receives progress events in the order the worker emits them.
type ProgressFunc func(ProgressEvent)

// Runner executes worker scripts as OS subprocesses, exchanging one JSON
// request/response per invocation over stdin/stdout. stderr carries JSON
// progress lines plus free-form diagnostics.
type Runner struct {
	Python    string
	ScriptDir string
}

// NewRunner creates a runner for the given interpreter and script directory.
func NewRunner(python, scriptDir string) *Runner {
	if python == "" {
		python = "python3"
	}
	return &Runner{Python: python, ScriptDir: scriptDir}
}

// Run invokes scriptName with the given request and waits for process exit.
// Returns a ProtocolError when the worker exits non-zero, produces no
// output, or produces output violating the result contract.
func (r *Runner) Run(ctx context.Context, scriptName string, req *WorkerRequest, onProgress ProgressFunc) (*WorkerResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal worker request: %w", err)
	}

	scriptPath := filepath.Join(r.ScriptDir, scriptName)
	cmd := exec.CommandContext(ctx, r.Python, scriptPath)
	cmd.Dir = r.ScriptDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", scriptName, err)
	}

	var outBuf bytes.Buffer
	var diagnostics []string

	g := new(errgroup.Group)
	g.Go(func() error {
		defer stdin.Close()
		_, err := stdin.Write(payload)
		return err
	})
	g.Go(func() error {
		_, err := outBuf.ReadFrom(stdout)
		return err
	})
	g.Go(func() error {
		// Progress events arrive as one JSON object per stderr line with
		// type "progress". Everything else is diagnostic output kept for
		// error reporting.
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if event, ok := parseProgressLine(line); ok {
				if onProgress != nil && event.Meaningful() {
					onProgress(event.Normalized())
				}
				continue
			}
			diagnostics = append(diagnostics, line)
		}
		return scanner.Err()
	})

	pumpErr := g.Wait()
	waitErr := cmd.Wait()

	stderrText := strings.Join(diagnostics, "\n")
	if waitErr != nil {
		detail := stderrText
		if detail == "" {
			detail = strings.TrimSpace(outBuf.String())
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("worker exited with code %d: %s", exitErr.ExitCode(), detail),
			}
		}
		return nil, &ProtocolError{Message: "worker failed to run", Cause: waitErr}
	}
	if pumpErr != nil {
		return nil, &ProtocolError{Message: "worker stream error", Cause: pumpErr}
	}

	return parseWorkerOutput(outBuf.String(), stderrText)
}

func parseProgressLine(line string) (ProgressEvent, bool) {
	if !strings.HasPrefix(line, "{") {
		return ProgressEvent{}, false
	}
	var envelope struct {
		Type string `json:"type"`
		ProgressEvent
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return ProgressEvent{}, false
	}
	if envelope.Type != "progress" {
		return ProgressEvent{}, false
	}
	return envelope.ProgressEvent, true
}

// parseWorkerOutput extracts and validates the single result object from a
// worker's stdout. Workers occasionally leak log noise before the result, so
// the last parseable JSON line wins; the full output is the fallback.
func parseWorkerOutput(stdout, stderrText string) (*WorkerResult, error) {
	output := strings.TrimSpace(stdout)
	if output == "" {
		return nil, &ProtocolError{Message: "no output produced: " + stderrText}
	}

	var raw json.RawMessage
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var candidate json.RawMessage
		if err := json.Unmarshal([]byte(line), &candidate); err == nil {
			raw = candidate
			break
		}
	}
	if raw == nil {
		if err := json.Unmarshal([]byte(output), &raw); err != nil {
			return nil, &ProtocolError{Message: "unparsable output: " + stderrText}
		}
	}

	if err := ValidateWorkerResult(raw); err != nil {
		return nil, err
	}

	var result WorkerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Message: "unexpected output shape", Cause: err}
	}
	return &result, nil
}
