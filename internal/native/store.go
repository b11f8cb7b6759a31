// Package native is an in-process cube engine. Fact rows are numbered at
// load time and every member keeps a roaring bitmap of the rows carrying
// it; a query cell is the cardinality of the intersection of its tuple's
// bitmaps with the slicer.
package native

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/rolap"
)

// Store is the row index of one cube. It is read-only once loaded.
type Store struct {
	cube  *cube.Cube
	rows  uint32
	index map[*cube.Member]*roaring.Bitmap
}

// NewStore returns an empty store for c.
func NewStore(c *cube.Cube) *Store {
	return &Store{cube: c, index: map[*cube.Member]*roaring.Bitmap{}}
}

// Cube returns the indexed cube.
func (s *Store) Cube() *cube.Cube { return s.cube }

// Rows returns the number of fact rows.
func (s *Store) Rows() int { return int(s.rows) }

// AddRow appends one fact row carrying members. Nil members are ignored.
func (s *Store) AddRow(members ...*cube.Member) {
	row := s.rows
	s.rows++
	for _, m := range members {
		if m == nil {
			continue
		}
		bm, ok := s.index[m]
		if !ok {
			bm = roaring.New()
			s.index[m] = bm
		}
		bm.Add(row)
	}
}

// RowsOf returns the rows carrying m. The bitmap must not be modified.
func (s *Store) RowsOf(m *cube.Member) *roaring.Bitmap {
	if bm, ok := s.index[m]; ok {
		return bm
	}
	return roaring.New()
}

// All returns every row.
func (s *Store) All() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(s.rows))
	return bm
}

// Load scans the fact table once through exec and indexes every mapped
// level. Keys that resolve to no member are counted and reported per level.
func Load(ctx context.Context, exec domain.RelationalExecutor, tenantID string, desc *rolap.Descriptor, c *cube.Cube, logger *slog.Logger) (*Store, error) {
	var levels []*cube.Level
	for _, l := range c.Levels() {
		if _, err := desc.Mapping(l); err == nil {
			levels = append(levels, l)
		}
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("cube %s: no mapped levels", c.Name)
	}
	q, err := desc.SQL(rolap.FactScan(levels))
	if err != nil {
		return nil, err
	}
	res, err := exec.Query(ctx, tenantID, q)
	if err != nil {
		return nil, fmt.Errorf("scan facts of %s: %w", c.Name, err)
	}

	s := NewStore(c)
	unknown := make([]int, len(levels))
	members := make([]*cube.Member, len(levels))
	for _, row := range res.Rows {
		for i, l := range levels {
			m, ok := rolap.ResolveMember(l, row[i])
			if !ok && row[i] != nil {
				unknown[i]++
			}
			members[i] = m
		}
		s.AddRow(members...)
	}
	for i, n := range unknown {
		if n > 0 {
			logger.Warn("fact keys without member", "level", levels[i].UniqueName(), "rows", n)
		}
	}
	logger.Info("native store loaded", "cube", c.Identity(), "rows", s.Rows(), "levels", len(levels))
	return s, nil
}
