package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanges_CompactRespectsSlowestReader(t *testing.T) {
	tbl := MustNew("t", ColumnSpec{Name: "x", Type: Float64})
	fast := tbl.Changes().Register()
	slow := tbl.Changes().Register()

	for i := 0; i < 5; i++ {
		_, err := tbl.Append(Batch{"x": []float64{float64(i)}})
		require.NoError(t, err)
	}
	fast.Advance(tbl.Changes().Seq())
	slow.Advance(2)

	dropped := tbl.Compact()
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, tbl.Changes().Len())
	assert.Len(t, slow.Pending(-1), 3)
	assert.Empty(t, fast.Pending(-1))

	slow.Close()
	assert.Equal(t, 3, tbl.Compact())
	assert.Equal(t, 0, tbl.Changes().Len())
}

func TestChanges_CompactWithoutReaders(t *testing.T) {
	tbl := MustNew("t", ColumnSpec{Name: "x", Type: Float64})
	_, _ = tbl.Append(Batch{"x": []float64{1, 2}})
	assert.Equal(t, 1, tbl.Compact())
	assert.Equal(t, int64(1), tbl.Changes().Seq(), "sequence survives compaction")
}

func TestChanges_EmptyMutationsNotLogged(t *testing.T) {
	tbl := MustNew("t", ColumnSpec{Name: "x", Type: Float64})
	_, err := tbl.Append(Batch{"x": []float64{}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), tbl.Changes().Seq())
}

func TestCursor_AdvanceIsMonotone(t *testing.T) {
	tbl := MustNew("t", ColumnSpec{Name: "x", Type: Float64})
	cur := tbl.Changes().Register()
	cur.Advance(5)
	cur.Advance(3)
	assert.Equal(t, int64(5), cur.Pos())
}
