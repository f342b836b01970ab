package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DrainsPipeline(t *testing.T) {
	out, logs, err := execute(t, "run", "testdata/max.yaml", "--quantum", "0", "--progress", "0")
	require.NoError(t, err)

	dots, listing, ok := strings.Cut(out, "Scheduler ")
	require.True(t, ok, out)
	assert.Equal(t, strings.Repeat(".", len(dots)), dots)
	assert.True(t, strings.HasPrefix(listing, "run=10 running=false units=3\n"), listing)
	assert.Contains(t, listing, "zombie")

	assert.Contains(t, logs, "scheduler drained")
	assert.Contains(t, logs, "pipeline finished")
}

func TestRun_JSONResult(t *testing.T) {
	out, logs, err := execute(t, "--format", "json", "run", "testdata/split.yaml",
		"--quantum", "0", "--progress", "0", "--log-format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "split", resp.Data.Pipeline)
	assert.Equal(t, int64(5), resp.Data.Runs)
	assert.False(t, resp.Data.Stopped)
	require.Len(t, resp.Data.Units, 4)
	for _, u := range resp.Data.Units {
		assert.Equal(t, "zombie", u.State, u.Name)
	}
	assert.Equal(t, int64(5000), resp.Data.Units[0].Rows)
	assert.Contains(t, resp.Data.Units[1].Quality, "max__1")

	// Print output and JSON logs go to stderr.
	assert.Contains(t, logs, "print: {_1=")
	assert.Contains(t, logs, `"msg":"scheduler drained"`)
}

func TestRun_ProgressLogs(t *testing.T) {
	_, logs, err := execute(t, "run", "testdata/split.yaml", "--quantum", "0", "--progress", "1h")
	require.NoError(t, err)
	// The first step and the final step of each unit are always logged.
	assert.Contains(t, logs, "msg=progress unit=random run=1")
	assert.Contains(t, logs, "msg=progress unit=random run=5 state=zombie")
}

func TestRun_RecordsTrace(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	out, _, err := execute(t, "run", "testdata/max.yaml", "--quantum", "0", "--progress", "0", "--trace-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Trace session: ")
}

func TestRun_Fault(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run", "testdata/fault.yaml", "--quantum", "0", "--progress", "0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   RunResult  `json:"data"`
		Error  *ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeFault, resp.Error.Code)
	assert.Equal(t, "1 unit(s) faulted", resp.Error.Message)

	require.Len(t, resp.Data.Units, 2)
	csv := resp.Data.Units[0]
	assert.Equal(t, "zombie", csv.State)
	assert.Contains(t, csv.Fault, "unit csv faulted at run 1")
	assert.Contains(t, csv.Fault, `line 3 column "x"`)
}

func TestRun_LoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantExit int
		want     string
	}{
		{"missing pipeline", []string{"run", "testdata/nope.yaml"}, ExitCommandError, "pipeline not found"},
		{"wiring", []string{"run", "testdata/mismatch.yaml"}, ExitFailure, "cannot build pipeline"},
		{"negative quantum", []string{"run", "testdata/max.yaml", "--quantum=-1s"}, ExitCommandError, "quantum must not be negative"},
		{"bad log format", []string{"run", "testdata/max.yaml", "--log-format", "xml"}, ExitCommandError, "xml"},
		{"no args", []string{"run"}, ExitFailure, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_ProgressBar(t *testing.T) {
	_, logs, err := execute(t, "run", "testdata/max.yaml", "--quantum", "0", "--progress", "1h", "--progress-bar")
	require.NoError(t, err)
	assert.Contains(t, logs, "random [##------------------]  10.0% run=1")
	assert.Contains(t, logs, "random [####################] 100.0% run=10")
	assert.NotContains(t, logs, "msg=progress")
}
