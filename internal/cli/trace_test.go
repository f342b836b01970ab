package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/store"
)

// recordRun runs testdata/max.yaml into a fresh trace database and returns
// its path and the session ID.
func recordRun(t *testing.T) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "trace.db")
	_, _, err := execute(t, "run", "testdata/max.yaml", "--quantum", "0", "--progress", "0", "--trace-db", db)
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	return db, sessions[0].ID
}

func TestTrace_ListSessions(t *testing.T) {
	db, id := recordRun(t)

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "drained")

	out, _, err = execute(t, "--format", "json", "trace", "--db", db)
	require.NoError(t, err)
	var resp struct {
		Data []store.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "max", resp.Data[0].Pipeline)
	assert.Equal(t, store.StatusDrained, resp.Data[0].Status)
	assert.Equal(t, int64(10), resp.Data[0].Runs)
	assert.NotNil(t, resp.Data[0].EndedAt)
}

func TestTrace_Session(t *testing.T) {
	db, id := recordRun(t)

	out, _, err := execute(t, "trace", "--db", db, "--session", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Session "+id+" (pipeline max)")
	assert.Contains(t, out, "Status: drained  Runs: 10")
	assert.Contains(t, out, "10000/10000")
	assert.NotContains(t, out, "Faults:")
}

func TestTrace_SessionUnitFilterJSON(t *testing.T) {
	db, id := recordRun(t)

	out, _, err := execute(t, "--format", "json", "trace", "--db", db, "--session", id, "--unit", "random")
	require.NoError(t, err)

	var resp struct {
		Data store.Trace `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Steps, 10)
	for i, st := range resp.Data.Steps {
		assert.Equal(t, "random", st.Unit)
		assert.Equal(t, int64(i+1), st.Run)
		assert.Equal(t, int64(1000), st.Steps)
	}
	last := resp.Data.Steps[9]
	assert.Equal(t, "zombie", last.State)
	assert.Equal(t, int64(10000), last.Consumed)
}

func TestTrace_Verbose(t *testing.T) {
	db, id := recordRun(t)

	out, _, err := execute(t, "-v", "trace", "--db", db, "--session", id, "--unit", "max")
	require.NoError(t, err)
	assert.Contains(t, out, "QUALITY")
	assert.Contains(t, out, "max__1=")
}

func TestTrace_Faults(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	_, _, err := execute(t, "run", "testdata/fault.yaml", "--quantum", "0", "--progress", "0", "--trace-db", db)
	require.Error(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.Len(t, sessions, 1)

	out, _, err := execute(t, "trace", "--db", db, "--session", sessions[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Faults:")
	assert.Contains(t, out, "run 1 csv:")
}

func TestTrace_Errors(t *testing.T) {
	db, _ := recordRun(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing db flag", []string{"trace"}, "required flag"},
		{"db not found", []string{"trace", "--db", filepath.Join(t.TempDir(), "none.db")}, "trace database not found"},
		{"unknown session", []string{"trace", "--db", db, "--session", "nope"}, "session not found: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTrace_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No sessions recorded.\n", out)
}
