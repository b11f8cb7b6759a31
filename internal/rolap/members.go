package rolap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
)

// KeyString converts a column value to a member name. ok is false for NULL.
func KeyString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int:
		return strconv.Itoa(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	default:
		return fmt.Sprint(x), true
	}
}

// ResolveMember maps a column value of l to its member. NULL resolves to the
// level's null member when it has one.
func ResolveMember(l *cube.Level, v interface{}) (*cube.Member, bool) {
	name, ok := KeyString(v)
	if !ok {
		return l.NullMember()
	}
	return l.LookupMember(name)
}

// LoadMembers fills every level of the builder that has no members yet from
// the distinct key values found in the fact data, top level first. Each
// level below the top selects its parent key alongside to attach members.
func (d *Descriptor) LoadMembers(ctx context.Context, exec domain.RelationalExecutor, tenantID string, b *cube.Builder, logger *slog.Logger) error {
	for _, l := range b.Levels() {
		if l.Size() > 0 {
			continue
		}
		if err := d.loadLevel(ctx, exec, tenantID, b, l, logger); err != nil {
			return err
		}
	}
	return nil
}

func (d *Descriptor) loadLevel(ctx context.Context, exec domain.RelationalExecutor, tenantID string, b *cube.Builder, l *cube.Level, logger *slog.Logger) error {
	var parent *cube.Level
	sel := []*cube.Level{l}
	if l.Depth() > 0 {
		parent = l.Hierarchy().Levels()[l.Depth()-1]
		sel = []*cube.Level{parent, l}
	}
	q := Existence(sel)
	q.OrderBy = true
	sqlQuery, err := d.SQL(q)
	if err != nil {
		return err
	}
	res, err := exec.Query(ctx, tenantID, sqlQuery)
	if err != nil {
		return fmt.Errorf("load members of %s: %w", l.UniqueName(), err)
	}
	for _, row := range res.Rows {
		var p *cube.Member
		if parent != nil {
			var ok bool
			p, ok = ResolveMember(parent, row[0])
			if !ok {
				logger.Warn("member parent not found", "level", l.UniqueName(), "parent", row[0])
				continue
			}
			row = row[1:]
		}
		name, ok := KeyString(row[0])
		if !ok {
			name = l.NullMemberName
			if name == "" {
				name = cube.DefaultNullMemberName
			}
		}
		b.AddMember(l, p, name)
	}
	return nil
}
