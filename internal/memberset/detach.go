package memberset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"duck-cube/internal/cube"
)

// Detached is a member set stripped of every pointer into the cube, safe to
// keep in a process-wide cache. Bitmaps are stored in roaring's portable
// serialization keyed by level unique name.
type Detached struct {
	Cube   string
	Levels map[string][]byte
	size   int
}

// Len returns the number of members captured at detach time.
func (d *Detached) Len() int { return d.size }

// SizeBytes approximates the memory held by the serialized bitmaps.
func (d *Detached) SizeBytes() int {
	n := 0
	for k, b := range d.Levels {
		n += len(k) + len(b)
	}
	return n
}

// Detach serializes the set.
func (s *Set) Detach() (*Detached, error) {
	d := &Detached{Levels: make(map[string][]byte, len(s.levels)), size: s.Len()}
	if s.cube != nil {
		d.Cube = s.cube.Identity()
	}
	for l, bm := range s.levels {
		if bm.IsEmpty() {
			continue
		}
		b, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("detach level %s: %w", l.UniqueName(), err)
		}
		d.Levels[l.UniqueName()] = b
	}
	return d, nil
}

// Attach relinks a detached set against levels. Levels are matched by unique
// name, so a set detached from one load of a cube attaches to a reload of
// the same schema. Ordinals beyond a level's ordinal space are dropped.
func Attach(d *Detached, levels cube.LevelMap) (*Set, error) {
	s := New()
	for name, b := range d.Levels {
		l, ok := levels[name]
		if !ok {
			return nil, fmt.Errorf("attach: unknown level %s", name)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("attach level %s: %w", name, err)
		}
		if bm.IsEmpty() {
			continue
		}
		if space := uint64(l.OrdinalSpace()); uint64(bm.Maximum()) >= space {
			bm.RemoveRange(space, uint64(bm.Maximum())+1)
			if bm.IsEmpty() {
				continue
			}
		}
		s.bind(l)
		s.levels[l] = bm
	}
	return s, nil
}
