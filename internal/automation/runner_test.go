package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRunner writes script as a shell worker in a temp directory and
// returns a runner that executes it with sh instead of python.
func newTestRunner(t *testing.T, script string) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	name := "worker.sh"
	err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o644)
	require.NoError(t, err)
	return &Runner{Python: "sh", ScriptDir: dir}, name
}

func testWorkerRequest() *WorkerRequest {
	return &WorkerRequest{JobURL: "https://example.com/jobs/1"}
}

func TestRunner_Run_Success(t *testing.T) {
	runner, script := newTestRunner(t, `
cat > /dev/null
echo '{"type":"progress","step":1,"totalSteps":3,"action":"navigate","status":"ok"}' >&2
echo '{"type":"progress","step":2,"totalSteps":3,"action":"fill_form","status":"ok"}' >&2
echo 'diagnostic noise' >&2
echo '{"success":true,"screenshots":["/tmp/a.png"],"steps":[{"action":"navigate","status":"ok"},{"action":"submit","status":"ok"}]}'
`)

	var events []ProgressEvent
	result, err := runner.Run(context.Background(), script, testWorkerRequest(), func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Nil(t, result.Error)
	assert.Equal(t, []string{"/tmp/a.png"}, result.Screenshots)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "navigate", result.Steps[0].Action)

	require.Len(t, events, 2)
	assert.Equal(t, 1, *events[0].Step)
	assert.Equal(t, 2, *events[1].Step)
	assert.Equal(t, "fill_form", events[1].Action)
}

func TestRunner_Run_NoiseBeforeResult(t *testing.T) {
	runner, script := newTestRunner(t, `
cat > /dev/null
echo 'starting up'
echo '{"success":false,"error":"captcha detected","screenshots":[],"steps":[{"action":"navigate","status":"error"}]}'
`)

	result, err := runner.Run(context.Background(), script, testWorkerRequest(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "captcha detected", *result.Error)
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	runner, script := newTestRunner(t, `
cat > /dev/null
echo 'browser crashed' >&2
exit 3
`)

	result, err := runner.Run(context.Background(), script, testWorkerRequest(), nil)
	assert.Nil(t, result)
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "exited with code 3")
	assert.Contains(t, perr.Message, "browser crashed")
}

func TestRunner_Run_EmptyOutput(t *testing.T) {
	runner, script := newTestRunner(t, `cat > /dev/null`)

	result, err := runner.Run(context.Background(), script, testWorkerRequest(), nil)
	assert.Nil(t, result)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "no output produced")
}

func TestRunner_Run_ContractViolation(t *testing.T) {
	// Exit 0 with a JSON object missing the required fields must fail loudly
	// instead of being recorded as a successful run.
	runner, script := newTestRunner(t, `
cat > /dev/null
echo '{}'
`)

	result, err := runner.Run(context.Background(), script, testWorkerRequest(), nil)
	assert.Nil(t, result)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestRunner_Run_DropsMeaninglessProgress(t *testing.T) {
	runner, script := newTestRunner(t, `
cat > /dev/null
echo '{"type":"progress"}' >&2
echo '{"type":"progress","step":1,"totalSteps":2}' >&2
echo '{"success":true,"screenshots":[],"steps":[]}'
`)

	var events []ProgressEvent
	_, err := runner.Run(context.Background(), script, testWorkerRequest(), func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, *events[0].Step)
}

func TestProgressEvent_Normalized(t *testing.T) {
	step := 7
	total := 3
	got := ProgressEvent{Step: &step, TotalSteps: &total}.Normalized()
	assert.Equal(t, 3, *got.Step)

	negative := -2
	got = ProgressEvent{Step: &negative}.Normalized()
	assert.Equal(t, 0, *got.Step)
}

func TestParseProgressLine(t *testing.T) {
	_, ok := parseProgressLine(`{"type":"progress","step":1}`)
	assert.True(t, ok)

	_, ok = parseProgressLine(`{"type":"other","step":1}`)
	assert.False(t, ok)

	_, ok = parseProgressLine(`plain diagnostic text`)
	assert.False(t, ok)

	_, ok = parseProgressLine(`{"type":"progress", truncated`)
	assert.False(t, ok)
}
