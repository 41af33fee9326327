package cstore

import (
	"bytes"
	"fmt"
)

// Op is a comparison operator.
type Op uint8

// Supported operators.
const (
	Equal Op = iota + 1
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	IsNull
	IsNotNull
)

var opSymbols = map[Op]string{
	Equal:        "=",
	NotEqual:     "!=",
	Less:         "<",
	LessEqual:    "<=",
	Greater:      ">",
	GreaterEqual: ">=",
	IsNull:       "IS NULL",
	IsNotNull:    "IS NOT NULL",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Predicate is a simple comparison of a column against a constant. A read
// session combines its predicates as a conjunction.
type Predicate struct {
	Column int
	Op     Op
	Value  interface{}
}

func (p Predicate) String() string {
	if p.Op == IsNull || p.Op == IsNotNull {
		return fmt.Sprintf("$%d %s", p.Column, p.Op)
	}
	return fmt.Sprintf("$%d %s %v", p.Column, p.Op, p.Value)
}

// Refutes returns true if no value within [min, max] can satisfy the
// predicate. Operators and values that cannot be evaluated against the
// range never refute.
func (p Predicate) Refutes(typ Type, min, max interface{}) bool {
	if !typ.Ordered() || p.Value == nil || !checkValue(typ, p.Value) {
		return false
	}

	switch p.Op {
	case Equal:
		return compareValues(typ, p.Value, min) < 0 || compareValues(typ, p.Value, max) > 0
	case Less:
		return compareValues(typ, min, p.Value) >= 0
	case LessEqual:
		return compareValues(typ, min, p.Value) > 0
	case Greater:
		return compareValues(typ, max, p.Value) <= 0
	case GreaterEqual:
		return compareValues(typ, max, p.Value) < 0
	}
	return false
}

// Match evaluates the predicate against a single value. Nulls only match
// IsNull. Unordered types support Equal and NotEqual only.
func (p Predicate) Match(typ Type, v interface{}, null bool) bool {
	switch p.Op {
	case IsNull:
		return null
	case IsNotNull:
		return !null
	}
	if null || p.Value == nil || !checkValue(typ, p.Value) {
		return false
	}

	if !typ.Ordered() {
		eq := bytes.Equal(v.([]byte), p.Value.([]byte))
		switch p.Op {
		case Equal:
			return eq
		case NotEqual:
			return !eq
		}
		return false
	}

	c := compareValues(typ, v, p.Value)
	switch p.Op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Less:
		return c < 0
	case LessEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterEqual:
		return c >= 0
	}
	return false
}

// --------------------------------------------------------------------

// refutedBy returns the first predicate that refutes block b of the skip
// list, or -1 if the block may contain matching rows.
func refutedBy(sl *SkipList, schema Schema, preds []Predicate, b int) int {
	for i, p := range preds {
		if p.Column < 0 || p.Column >= sl.Columns {
			continue
		}
		node := sl.Node(p.Column, b)
		if !node.HasMinMax {
			continue
		}
		if p.Refutes(schema[p.Column].Type, node.Min, node.Max) {
			return i
		}
	}
	return -1
}
