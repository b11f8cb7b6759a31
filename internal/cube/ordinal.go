package cube

import (
	"fmt"
	"math"
)

// ordinalSlack is how far a level's ordinal space may exceed twice its
// member count. Ordinals index a dense slice and a uint32 bitmap.
const ordinalSlack = 1024

// AssignOrdinals gives every member a stable position within its level.
// Members are visited in level order; a member whose ordinal was already set
// by the cube source keeps it, and the rest take the next free position.
// Calling it again is a no-op.
func (c *Cube) AssignOrdinals() error {
	for _, l := range c.Levels() {
		if err := l.assignOrdinals(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Level) assignOrdinals() error {
	taken := make(map[int]*Member, len(l.members))
	maxOrdinal := -1
	for _, m := range l.members {
		if m.ordinal == unassigned {
			continue
		}
		if m.ordinal < 0 {
			return fmt.Errorf("level %s: member %s has negative ordinal %d", l.UniqueName(), m.uniqueName, m.ordinal)
		}
		if int64(m.ordinal) >= math.MaxUint32 {
			return fmt.Errorf("level %s: member %s has ordinal %d beyond the 32-bit ordinal space", l.UniqueName(), m.uniqueName, m.ordinal)
		}
		if prev, dup := taken[m.ordinal]; dup {
			return fmt.Errorf("level %s: members %s and %s share ordinal %d", l.UniqueName(), prev.uniqueName, m.uniqueName, m.ordinal)
		}
		taken[m.ordinal] = m
		if m.ordinal > maxOrdinal {
			maxOrdinal = m.ordinal
		}
	}

	next := 0
	for _, m := range l.members {
		if m.ordinal != unassigned {
			continue
		}
		for {
			if _, used := taken[next]; !used {
				break
			}
			next++
		}
		m.ordinal = next
		taken[next] = m
		if next > maxOrdinal {
			maxOrdinal = next
		}
		next++
	}

	if limit := 2*len(l.members) + ordinalSlack; maxOrdinal >= limit {
		return fmt.Errorf("level %s: ordinal %d is too sparse for %d members (limit %d)", l.UniqueName(), maxOrdinal, len(l.members), limit)
	}
	l.byOrdinal = make([]*Member, maxOrdinal+1)
	for ord, m := range taken {
		l.byOrdinal[ord] = m
	}
	return nil
}
