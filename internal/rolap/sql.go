package rolap

import (
	"fmt"
	"strings"

	"duck-cube/internal/cube"
)

const factAlias = "f"

// Predicate restricts one level to a list of members. A nil Members slice
// admits every member of the level, so NULL keys only pass when the level
// has a null member. An empty non-nil slice admits none.
type Predicate struct {
	Level   *cube.Level
	Members []*cube.Member
}

// AnyOf is a disjunction of predicates.
type AnyOf []Predicate

// Query is a SELECT over the fact table: the key columns of Select, over
// fact rows satisfying every group in Where.
type Query struct {
	Select   []*cube.Level
	Where    []AnyOf
	Distinct bool
	OrderBy  bool
}

// Existence returns the query listing the distinct key combinations of
// levels over fact rows satisfying where.
func Existence(levels []*cube.Level, where ...AnyOf) Query {
	return Query{Select: levels, Where: where, Distinct: true}
}

// FactScan returns the query listing the keys of levels for every fact row.
func FactScan(levels []*cube.Level) Query {
	return Query{Select: levels}
}

type joinKey struct {
	table, fk, pk string
}

type sqlBuilder struct {
	d       *Descriptor
	aliases map[joinKey]string
	joins   []string
	filters []string
	seen    map[string]bool
}

// SQL renders q.
func (d *Descriptor) SQL(q Query) (string, error) {
	if len(q.Select) == 0 {
		return "", fmt.Errorf("rolap: query selects no levels")
	}
	b := &sqlBuilder{d: d, aliases: map[joinKey]string{}, seen: map[string]bool{}}

	cols := make([]string, len(q.Select))
	for i, l := range q.Select {
		col, err := b.column(l)
		if err != nil {
			return "", err
		}
		cols[i] = col
	}

	var where []string
	for _, group := range q.Where {
		cond, err := b.anyOf(group)
		if err != nil {
			return "", err
		}
		if cond != "" {
			where = append(where, cond)
		}
	}
	where = append(b.filters, where...)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdentifier(d.FactTable))
	sb.WriteString(" AS " + factAlias)
	for _, j := range b.joins {
		sb.WriteString(" " + j)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if q.OrderBy {
		order := make([]string, len(cols))
		for i := range cols {
			order[i] = fmt.Sprintf("%d", i+1)
		}
		sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	return sb.String(), nil
}

// column returns the qualified key column of l, registering its join and
// filter on first use.
func (b *sqlBuilder) column(l *cube.Level) (string, error) {
	m, err := b.d.Mapping(l)
	if err != nil {
		return "", err
	}
	alias := factAlias
	if m.joined(b.d.FactTable) {
		key := joinKey{m.Table, m.ForeignKey, m.PrimaryKey}
		a, ok := b.aliases[key]
		if !ok {
			a = fmt.Sprintf("d%d", len(b.aliases)+1)
			b.aliases[key] = a
			b.joins = append(b.joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
				QuoteIdentifier(m.Table), a,
				factAlias, QuoteIdentifier(m.ForeignKey),
				a, QuoteIdentifier(m.PrimaryKey)))
		}
		alias = a
	}
	if m.Filter != "" && !b.seen[l.UniqueName()] {
		b.filters = append(b.filters, "("+m.Filter+")")
	}
	b.seen[l.UniqueName()] = true
	return alias + "." + QuoteIdentifier(m.Column), nil
}

// anyOf renders a disjunction. An empty string means the group admits
// every row.
func (b *sqlBuilder) anyOf(group AnyOf) (string, error) {
	var terms []string
	unrestricted := false
	for _, p := range group {
		col, err := b.column(p.Level)
		if err != nil {
			return "", err
		}
		if p.Members == nil {
			if _, ok := p.Level.NullMember(); ok {
				unrestricted = true
			} else {
				terms = append(terms, col+" IS NOT NULL")
			}
			continue
		}
		terms = append(terms, memberTerms(col, p.Members)...)
	}
	switch {
	case unrestricted:
		return "", nil
	case len(terms) == 0:
		return "1 = 0", nil
	case len(terms) == 1:
		return terms[0], nil
	default:
		return "(" + strings.Join(terms, " OR ") + ")", nil
	}
}

func memberTerms(col string, members []*cube.Member) []string {
	var names []string
	null := false
	for _, m := range members {
		if m.IsNull() {
			null = true
			continue
		}
		names = append(names, QuoteLiteral(m.Name))
	}
	var terms []string
	if len(names) > 0 {
		terms = append(terms, col+" IN ("+strings.Join(names, ", ")+")")
	}
	if null {
		terms = append(terms, col+" IS NULL")
	}
	return terms
}
