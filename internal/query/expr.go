// Package query defines the query expression tree and evaluates it to
// result algebra values.
package query

import (
	"encoding/json"
	"fmt"

	"duck-cube/internal/domain"
)

// Op is an expression operator.
type Op string

// Operators.
const (
	OpMembers    Op = "MEMBERS"
	OpCrossJoin  Op = "CROSSJOIN"
	OpXIntersect Op = "XINTERSECT"
	OpIntersect  Op = "INTERSECT"
	OpUnion      Op = "UNION"
)

// Expr is one node of a query expression tree.
//
// A MEMBERS node names explicit members by unique name, or a whole level or
// hierarchy. Children narrows a hierarchy to its top level. Membership keeps
// only the members co-occurring with the result of a nested expression.
// Every other operator combines its Arguments.
type Expr struct {
	Op         Op       `json:"op"`
	Arguments  []*Expr  `json:"arguments,omitempty"`
	Members    []string `json:"members,omitempty"`
	Level      string   `json:"level,omitempty"`
	Hierarchy  string   `json:"hierarchy,omitempty"`
	Children   bool     `json:"children,omitempty"`
	Membership *Expr    `json:"membership,omitempty"`
}

// Members returns a MEMBERS node over explicit members.
func Members(uniqueNames ...string) *Expr {
	return &Expr{Op: OpMembers, Members: uniqueNames}
}

// LevelMembers returns a MEMBERS node over a whole level.
func LevelMembers(level string) *Expr {
	return &Expr{Op: OpMembers, Level: level}
}

// HierarchyMembers returns a MEMBERS node over a whole hierarchy.
func HierarchyMembers(hierarchy string) *Expr {
	return &Expr{Op: OpMembers, Hierarchy: hierarchy}
}

// Where returns a copy of e restricted by a membership sub-query.
func (e *Expr) Where(sub *Expr) *Expr {
	c := *e
	c.Membership = sub
	return &c
}

// Apply returns an operator node over args.
func Apply(op Op, args ...*Expr) *Expr {
	return &Expr{Op: op, Arguments: args}
}

// Scope restricts a query to the measure-level members below the given
// container members.
type Scope struct {
	Members []string `json:"members"`
}

// Request is one cube query.
type Request struct {
	Rows      *Expr  `json:"rows,omitempty"`
	Columns   *Expr  `json:"columns,omitempty"`
	Filters   *Expr  `json:"filters,omitempty"`
	Measure   string `json:"measure,omitempty"`
	Scope     *Scope `json:"scope,omitempty"`
	ShowEmpty bool   `json:"show_empty,omitempty"`
}

// Validate checks that at least one axis is present.
func (r *Request) Validate() error {
	if r.Rows == nil && r.Columns == nil {
		return domain.ErrValidation("query needs a rows or columns axis")
	}
	return nil
}

// ParseRequest decodes a JSON request.
func ParseRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, domain.ErrValidation("invalid query: %v", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != OpMembers:
		return fmt.Sprintf("%s%v", e.Op, e.Arguments)
	case len(e.Members) > 0:
		return fmt.Sprintf("MEMBERS%v", e.Members)
	case e.Level != "":
		return "MEMBERS(" + e.Level + ")"
	default:
		return "MEMBERS(" + e.Hierarchy + ")"
	}
}
