package predicate

import "slices"

// DNF (Disjunctive Normal Form) of a resolved tree.
//
// DNF is an OR of ANDs: (A AND B) OR (C AND D) OR ...
// Executors use it to pick indexes per branch: positive leaves can be
// answered from the index their hint names, negative leaves become runtime
// filters, and branch results are unioned.

// Conjunction is a single AND clause of leaf node ids.
type Conjunction struct {
	Positive []NodeID // leaves that must match
	Negative []NodeID // leaves that must not match
}

// IsEmpty reports whether the conjunction has no leaves (matches all).
func (c Conjunction) IsEmpty() bool {
	return len(c.Positive) == 0 && len(c.Negative) == 0
}

// Branches converts the tree to DNF. A nil result means the tree matches
// nothing; a single empty conjunction means it matches everything.
// Returns ErrUnresolved if deferred nodes remain.
func (t *Tree) Branches() ([]Conjunction, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != treeResolved {
		return nil, ErrUnresolved
	}
	return t.dnf(t.root), nil
}

func (t *Tree) dnf(id NodeID) []Conjunction {
	n := &t.nodes[id]
	switch n.Op {
	case OpEqual, OpAbsent, OpIncludes:
		return []Conjunction{{Positive: []NodeID{id}}}
	case OpNot:
		return t.dnfNot(n.Children[0])
	case OpAnd:
		lists := make([][]Conjunction, len(n.Children))
		for i, c := range n.Children {
			lists[i] = t.dnf(c)
		}
		return crossProduct(lists)
	case OpOr:
		var result []Conjunction
		for _, c := range n.Children {
			result = append(result, t.dnf(c)...)
		}
		return result
	default:
		return nil
	}
}

// dnfNot pushes negation down to the leaves.
// NOT (A AND B) = (NOT A) OR (NOT B)
// NOT (A OR B) = (NOT A) AND (NOT B)
// NOT (NOT A) = A
func (t *Tree) dnfNot(id NodeID) []Conjunction {
	n := &t.nodes[id]
	switch n.Op {
	case OpEqual, OpAbsent, OpIncludes:
		return []Conjunction{{Negative: []NodeID{id}}}
	case OpNot:
		return t.dnf(n.Children[0])
	case OpAnd:
		var result []Conjunction
		for _, c := range n.Children {
			result = append(result, t.dnfNot(c)...)
		}
		return result
	case OpOr:
		lists := make([][]Conjunction, len(n.Children))
		for i, c := range n.Children {
			lists[i] = t.dnfNot(c)
		}
		return crossProduct(lists)
	default:
		return nil
	}
}

// crossProduct merges one conjunction from each list, for every choice.
// No lists yields the single empty conjunction.
func crossProduct(lists [][]Conjunction) []Conjunction {
	result := []Conjunction{{}}
	for _, list := range lists {
		var next []Conjunction
		for _, a := range result {
			for _, b := range list {
				next = append(next, Conjunction{
					Positive: slices.Concat(a.Positive, b.Positive),
					Negative: slices.Concat(a.Negative, b.Negative),
				})
			}
		}
		result = next
	}
	return result
}
