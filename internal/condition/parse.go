package condition

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawNode is the file representation of a Node.
//
//	{operator: any|all|not, operands: [...]}           group
//	{state: {plugin, key}, operator: equal, compare: 5} leaf
type rawNode struct {
	Operator string    `yaml:"operator,omitempty" json:"operator,omitempty"`
	Operands []rawNode `yaml:"operands,omitempty" json:"operands,omitempty"`
	State    *Ref      `yaml:"state,omitempty" json:"state,omitempty"`
	Compare  any       `yaml:"compare,omitempty" json:"compare,omitempty"`
}

func (r rawNode) node() (Node, error) {
	if r.State != nil {
		op := Operator(r.Operator)
		if op == "" {
			op = OpEqual
		}
		if len(r.Operands) > 0 {
			return Node{}, fmt.Errorf("%w: leaf %s has operands", ErrInvalidCondition, r.State)
		}
		return Node{Kind: KindLeaf, State: *r.State, Operator: op, Compare: r.Compare}, nil
	}

	var kind Kind
	switch r.Operator {
	case "", string(KindAny), "or":
		kind = KindAny
	case string(KindAll), "and":
		kind = KindAll
	case string(KindNot):
		kind = KindNot
	default:
		return Node{}, fmt.Errorf("%w: unknown group operator %q", ErrInvalidCondition, r.Operator)
	}

	n := Node{Kind: kind, Operands: make([]Node, 0, len(r.Operands))}
	for _, raw := range r.Operands {
		child, err := raw.node()
		if err != nil {
			return Node{}, err
		}
		n.Operands = append(n.Operands, child)
	}
	return n, nil
}

func (n Node) raw() rawNode {
	if n.Kind == KindLeaf {
		ref := n.State
		return rawNode{Operator: string(n.Operator), State: &ref, Compare: n.Compare}
	}
	r := rawNode{Operator: string(n.Kind), Operands: make([]rawNode, len(n.Operands))}
	for i, op := range n.Operands {
		r.Operands[i] = op.raw()
	}
	return r
}

// UnmarshalYAML decodes the file representation.
// An empty mapping decodes to Always.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var r rawNode
	if err := value.Decode(&r); err != nil {
		return fmt.Errorf("decoding condition: %w", err)
	}
	parsed, err := r.node()
	if err != nil {
		return err
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalYAML encodes the file representation.
func (n Node) MarshalYAML() (any, error) {
	if n.Kind == "" {
		return Always().raw(), nil
	}
	return n.raw(), nil
}

// UnmarshalJSON decodes the file representation from JSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	var r rawNode
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("decoding condition: %w", err)
	}
	parsed, err := r.node()
	if err != nil {
		return err
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalJSON encodes the file representation as JSON.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Kind == "" {
		return json.Marshal(Always().raw())
	}
	return json.Marshal(n.raw())
}
