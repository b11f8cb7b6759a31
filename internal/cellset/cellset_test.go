package cellset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-cube/internal/cellset"
	"duck-cube/internal/testutil"
)

func TestCellSet_TwoAxes(t *testing.T) {
	c := testutil.ClinicalCube(t)
	cohort := testutil.Level(t, c, "[Cohort].[Cohort]")
	study := testutil.Level(t, c, "[Study].[Study]")

	cols := cellset.NewAxis(study.Members())
	rows := cellset.NewAxis(cohort.Members())
	cells := []cellset.Cell{{Value: 2, Valid: true}, {Value: 1, Valid: true}, {Value: 0, Valid: true}, {Value: 1, Valid: true}}

	cs, err := cellset.New(cols, rows, cells)
	require.NoError(t, err)
	assert.Equal(t, 4, cs.Len())
	assert.Equal(t, study.Members(), cs.ColumnAxis().Members())
	assert.Equal(t, cohort.Members(), cs.RowAxis().Members())

	cell, err := cs.CellAt(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cell.Value)

	cell, err = cs.CellAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cell.Value)

	_, err = cs.CellAt(2, 0)
	require.Error(t, err)
	assert.Equal(t, []int64{2, 1, 0, 1}, cs.Values())
}

func TestCellSet_OneAxis(t *testing.T) {
	c := testutil.ClinicalCube(t)
	cohort := testutil.Level(t, c, "[Cohort].[Cohort]")

	cs, err := cellset.New(cellset.SyntheticAxis(), cellset.NewAxis(cohort.Members()), []cellset.Cell{{Value: 2, Valid: true}, {Value: 1, Valid: true}})
	require.NoError(t, err)
	assert.True(t, cs.ColumnAxis().Synthetic())
	assert.Nil(t, cs.ColumnAxis().Members())

	for i, want := range []int64{2, 1} {
		cell, err := cs.Cell(i)
		require.NoError(t, err)
		assert.Equal(t, want, cell.Value)
	}
}

func TestCellSet_SizeMismatch(t *testing.T) {
	_, err := cellset.New(cellset.SyntheticAxis(), cellset.SyntheticAxis(), nil)
	require.Error(t, err)
}

func TestCellSet_Close(t *testing.T) {
	cs, err := cellset.New(cellset.SyntheticAxis(), cellset.SyntheticAxis(), []cellset.Cell{{Value: 7, Valid: true}})
	require.NoError(t, err)
	require.NoError(t, cs.Close())
	_, err = cs.Cell(0)
	require.Error(t, err)
}

func TestCell_String(t *testing.T) {
	assert.Equal(t, "", cellset.Cell{}.String())
	assert.Equal(t, "3", cellset.Cell{Value: 3, Valid: true}.String())
}
