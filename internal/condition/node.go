// Package condition evaluates boolean condition trees over plugin state.
//
// A tree is built from leaves that compare one state value against a
// constant, and from the groups All (and), Any (or) and Not.
//
// Empty groups are true. For Any this is the inverse of the usual
// empty-disjunction rule: a profile without conditions is always active,
// and the default condition of a profile is an empty Any.
package condition

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a Node.
type Kind string

// Node kinds. The group kinds match the "operator" values used in profile files.
const (
	KindLeaf Kind = "leaf"
	KindAll  Kind = "all"
	KindAny  Kind = "any"
	KindNot  Kind = "not"
)

// Operator is a leaf comparison.
type Operator string

// Leaf operators.
const (
	OpEqual         Operator = "equal"
	OpNotEqual      Operator = "notEqual"
	OpLessThan      Operator = "lessThan"
	OpLessThanEq    Operator = "lessThanEq"
	OpGreaterThan   Operator = "greaterThan"
	OpGreaterThanEq Operator = "greaterThanEq"
)

// Valid reports whether op is a known leaf operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanEq, OpGreaterThan, OpGreaterThanEq:
		return true
	default:
		return false
	}
}

// Ref names one state cell.
type Ref struct {
	Plugin string `yaml:"plugin" json:"plugin"`
	Key    string `yaml:"key" json:"key"`
}

func (r Ref) String() string { return r.Plugin + "." + r.Key }

// Node is one node of a condition tree. Nodes are treated as immutable
// once built.
type Node struct {
	Kind Kind

	// Leaf fields.
	State    Ref
	Operator Operator
	Compare  any

	// Group fields. Not has exactly one operand.
	Operands []Node
}

// Leaf returns a node that is true when plugin.key equals expected.
func Leaf(plugin, key string, expected any) Node {
	return Node{Kind: KindLeaf, State: Ref{Plugin: plugin, Key: key}, Operator: OpEqual, Compare: expected}
}

// Compare returns a leaf node using op.
func Compare(plugin, key string, op Operator, value any) Node {
	return Node{Kind: KindLeaf, State: Ref{Plugin: plugin, Key: key}, Operator: op, Compare: value}
}

// And returns a node that is true when every child is true.
func And(children ...Node) Node {
	return Node{Kind: KindAll, Operands: children}
}

// Or returns a node that is true when any child is true, or when it has no children.
func Or(children ...Node) Node {
	return Node{Kind: KindAny, Operands: children}
}

// Not returns a node that negates child.
func Not(child Node) Node {
	return Node{Kind: KindNot, Operands: []Node{child}}
}

// Always is the default condition: an empty Or.
func Always() Node {
	return Or()
}

// Validate checks the tree's structure.
func (n Node) Validate() error {
	return n.validate("conditions")
}

func (n Node) validate(path string) error {
	switch n.Kind {
	case KindLeaf:
		if n.State.Plugin == "" || n.State.Key == "" {
			return fmt.Errorf("%w: %s: leaf needs state plugin and key", ErrInvalidCondition, path)
		}
		if !n.Operator.Valid() {
			return fmt.Errorf("%w: %s: unknown operator %q", ErrInvalidCondition, path, n.Operator)
		}
		return nil
	case KindNot:
		if len(n.Operands) != 1 {
			return fmt.Errorf("%w: %s: not needs exactly one operand, got %d",
				ErrInvalidCondition, path, len(n.Operands))
		}
	case KindAll, KindAny, "":
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidCondition, path, n.Kind)
	}

	for i, op := range n.Operands {
		if err := op.validate(fmt.Sprintf("%s.operands[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// References returns every state cell the tree reads, in tree order without duplicates.
func (n Node) References() []Ref {
	var out []Ref
	seen := make(map[Ref]bool)
	n.walk(func(leaf Node) {
		if !seen[leaf.State] {
			seen[leaf.State] = true
			out = append(out, leaf.State)
		}
	})
	return out
}

func (n Node) walk(fn func(leaf Node)) {
	if n.Kind == KindLeaf {
		fn(n)
		return
	}
	for _, op := range n.Operands {
		op.walk(fn)
	}
}

// String renders the tree in a compact prefix form for logs.
func (n Node) String() string {
	switch n.Kind {
	case KindLeaf:
		return fmt.Sprintf("%s %s %v", n.State, n.Operator, n.Compare)
	default:
		parts := make([]string, len(n.Operands))
		for i, op := range n.Operands {
			parts[i] = op.String()
		}
		return fmt.Sprintf("%s(%s)", n.Kind, strings.Join(parts, ", "))
	}
}
