package condition

import "github.com/nerrad567/cuebox/internal/state"

// Evaluate reports whether n holds for the values src returns.
//
// Every operand of a group is evaluated, even once the result is known.
// When src is a tracking reader this subscribes the caller to every cell
// the tree mentions, not only the ones that decided this result.
//
// A leaf naming a missing cell compares against nil. The zero Node is
// treated as Always.
func Evaluate(n Node, src state.Reader) bool {
	switch n.Kind {
	case KindLeaf:
		return evalLeaf(n, src)
	case KindAll:
		result := true
		for _, op := range n.Operands {
			if !Evaluate(op, src) {
				result = false
			}
		}
		return result
	case KindAny, "":
		if len(n.Operands) == 0 {
			return true
		}
		result := false
		for _, op := range n.Operands {
			if Evaluate(op, src) {
				result = true
			}
		}
		return result
	case KindNot:
		if len(n.Operands) != 1 {
			return false
		}
		return !Evaluate(n.Operands[0], src)
	default:
		return false
	}
}

func evalLeaf(n Node, src state.Reader) bool {
	var lhs any
	if src != nil {
		lhs, _ = src.Get(n.State.Plugin, n.State.Key)
	}
	rhs := n.Compare

	switch n.Operator {
	case OpEqual, "":
		return state.Equal(lhs, rhs)
	case OpNotEqual:
		return !state.Equal(lhs, rhs)
	}

	c, ok := state.Compare(lhs, rhs)
	if !ok {
		return false
	}
	switch n.Operator {
	case OpLessThan:
		return c < 0
	case OpLessThanEq:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterThanEq:
		return c >= 0
	default:
		return false
	}
}

// Snapshot adapts a plugin/key value map to a state.Reader.
type Snapshot map[string]map[string]any

// Get returns the value of plugin.key.
func (s Snapshot) Get(plugin, key string) (any, bool) {
	m, ok := s[plugin]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}
