// Package cellset holds the positional result grid produced by a query.
package cellset

import (
	"fmt"

	"duck-cube/internal/cube"
)

// Axis indexes.
const (
	Columns = 0
	Rows    = 1
)

// Position is one entry of an axis: a tuple of members, one per
// participating hierarchy. Engine grids carry single-member tuples.
type Position struct {
	Members []*cube.Member
}

// Member returns the first member of the tuple, or nil for a synthetic
// position.
func (p Position) Member() *cube.Member {
	if len(p.Members) == 0 {
		return nil
	}
	return p.Members[0]
}

// Axis is an ordered list of positions.
type Axis struct {
	positions []Position
	synthetic bool
}

// NewAxis builds an axis holding one single-member position per member.
func NewAxis(members []*cube.Member) Axis {
	ps := make([]Position, len(members))
	for i, m := range members {
		ps[i] = Position{Members: []*cube.Member{m}}
	}
	return Axis{positions: ps}
}

// NewTupleAxis builds an axis from tuple positions.
func NewTupleAxis(positions []Position) Axis {
	return Axis{positions: positions}
}

// SyntheticAxis stands in for an unspecified axis: one empty position.
func SyntheticAxis() Axis {
	return Axis{positions: []Position{{}}, synthetic: true}
}

// Len returns the number of positions.
func (a Axis) Len() int { return len(a.positions) }

// Synthetic reports whether the axis stands in for an unspecified one.
func (a Axis) Synthetic() bool { return a.synthetic }

// Positions returns the axis positions.
func (a Axis) Positions() []Position { return a.positions }

// Members returns the first member of every position.
func (a Axis) Members() []*cube.Member {
	if a.synthetic {
		return nil
	}
	out := make([]*cube.Member, len(a.positions))
	for i, p := range a.positions {
		out[i] = p.Member()
	}
	return out
}

// Cell is one grid value. Empty cells have Valid false.
type Cell struct {
	Value int64
	Valid bool
}

func (c Cell) String() string {
	if !c.Valid {
		return ""
	}
	return fmt.Sprintf("%d", c.Value)
}

// CellSet is an immutable two-axis grid. Cells are stored row-major: the
// cell at (row, col) has ordinal row*columnCount + col. In a one-axis grid
// the other axis is synthetic, so cell ordinals equal positions.
type CellSet struct {
	axes   [2]Axis
	cells  []Cell
	closed bool
}

// New assembles a grid. len(cells) must equal columns.Len() * rows.Len().
func New(columns, rows Axis, cells []Cell) (*CellSet, error) {
	if want := columns.Len() * rows.Len(); len(cells) != want {
		return nil, fmt.Errorf("cellset: %d cells for a %dx%d grid", len(cells), rows.Len(), columns.Len())
	}
	return &CellSet{axes: [2]Axis{columns, rows}, cells: cells}, nil
}

// Axis returns the axis at index Columns or Rows.
func (c *CellSet) Axis(i int) Axis { return c.axes[i] }

// ColumnAxis returns the column axis.
func (c *CellSet) ColumnAxis() Axis { return c.axes[Columns] }

// RowAxis returns the row axis.
func (c *CellSet) RowAxis() Axis { return c.axes[Rows] }

// Len returns the number of cells.
func (c *CellSet) Len() int { return len(c.cells) }

// Cell returns the cell at a flat ordinal.
func (c *CellSet) Cell(ordinal int) (Cell, error) {
	if c.closed {
		return Cell{}, fmt.Errorf("cellset: closed")
	}
	if ordinal < 0 || ordinal >= len(c.cells) {
		return Cell{}, fmt.Errorf("cellset: ordinal %d out of range [0,%d)", ordinal, len(c.cells))
	}
	return c.cells[ordinal], nil
}

// CellAt returns the cell at (row, col).
func (c *CellSet) CellAt(row, col int) (Cell, error) {
	cols := c.axes[Columns].Len()
	if col < 0 || col >= cols || row < 0 || row >= c.axes[Rows].Len() {
		return Cell{}, fmt.Errorf("cellset: (%d,%d) outside %dx%d grid", row, col, c.axes[Rows].Len(), cols)
	}
	return c.Cell(row*cols + col)
}

// Values returns a copy of the cell values, empty cells as zero.
func (c *CellSet) Values() []int64 {
	out := make([]int64, len(c.cells))
	for i, cell := range c.cells {
		out[i] = cell.Value
	}
	return out
}

// Close releases the cells. Further cell reads fail.
func (c *CellSet) Close() error {
	c.closed = true
	c.cells = nil
	return nil
}
