package predicate

import (
	"bytes"
	"slices"
	"strconv"
	"strings"
	"sync"

	"feedquery/internal/index"
	"feedquery/internal/msg"
	"feedquery/internal/seek"
)

// NodeID addresses a node in a Tree's arena.
type NodeID int

// Node is one slot of a Tree's arena.
type Node struct {
	Op       Op
	Field    seek.Field
	Pluck    seek.Pluck
	Value    []byte
	Hint     IndexHint
	Children []NodeID

	deferred *DeferredSpec
}

// Deferred returns the spec of a deferred node, or nil.
func (n Node) Deferred() *DeferredSpec {
	return n.deferred
}

// NodeState tracks a deferred slot through resolution.
type NodeState int

const (
	StatePending NodeState = iota
	StateWaiting
	StateResolved
	StateFailed
)

func (s NodeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type treeState int

const (
	treeBuilt treeState = iota
	treeResolving
	treeResolved
	treeFailed
)

// Tree is a predicate expression flattened into an arena of nodes.
//
// A Tree is immutable apart from one rewrite: Resolve replaces every
// Deferred slot with its concrete leaf, all at once. Once resolved the tree
// holds no Deferred node and is safe for concurrent Match calls.
type Tree struct {
	mu       sync.RWMutex
	nodes    []Node
	root     NodeID
	deferred []NodeID
	states   map[NodeID]NodeState
	state    treeState
	err      error

	// tail is the log tail recorded by BuildFor; hasTail is false for trees
	// from Build, which read the tail when Resolve starts.
	tail    uint64
	hasTail bool
}

// Build validates expr and flattens it into a Tree. Construction errors
// (malformed hints, nil targets) are reported here, before any resolution
// or execution.
func Build(expr Expr) (*Tree, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}
	t := &Tree{states: make(map[NodeID]NodeState)}
	t.root = t.add(expr)
	if len(t.deferred) == 0 {
		t.state = treeResolved
	}
	return t, nil
}

// BuildFor is like Build but records reg's tail offset now. Resolve then
// waits for indexes to drain up to that offset, even if the log has grown
// since.
func BuildFor(expr Expr, reg index.Registry) (*Tree, error) {
	t, err := Build(expr)
	if err != nil {
		return nil, err
	}
	t.tail, t.hasTail = reg.TailOffset(), true
	return t, nil
}

// MustBuild is like Build but panics on a construction error.
func MustBuild(expr Expr) *Tree {
	t, err := Build(expr)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tree) add(expr Expr) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{})

	var n Node
	switch e := expr.(type) {
	case *EqualExpr:
		n = Node{Op: OpEqual, Field: e.Field, Value: e.Value, Hint: e.Hint}
	case *AbsentExpr:
		n = Node{Op: OpAbsent, Field: e.Field, Hint: e.Hint}
	case *IncludesExpr:
		n = Node{Op: OpIncludes, Field: e.Field, Pluck: e.Pluck, Value: e.Value, Hint: e.Hint}
	case *AndExpr:
		n = Node{Op: OpAnd, Children: t.addAll(e.Terms)}
	case *OrExpr:
		n = Node{Op: OpOr, Children: t.addAll(e.Terms)}
	case *NotExpr:
		n = Node{Op: OpNot, Children: []NodeID{t.add(e.Term)}}
	case *DeferredExpr:
		spec := e.Spec
		n = Node{Op: OpDeferred, Field: spec.Field, Pluck: spec.Pluck, Hint: spec.Hint, deferred: &spec}
		t.deferred = append(t.deferred, id)
		t.states[id] = StatePending
	}
	t.nodes[id] = n
	return id
}

func (t *Tree) addAll(terms []Expr) []NodeID {
	ids := make([]NodeID, len(terms))
	for i, term := range terms {
		ids[i] = t.add(term)
	}
	return ids
}

// Root returns the root node's id.
func (t *Tree) Root() NodeID {
	return t.root
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Node returns a copy of the node at id.
func (t *Tree) Node(id NodeID) Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.nodes[id]
	n.Children = slices.Clone(n.Children)
	return n
}

// Ready reports whether the tree holds no unresolved deferred node.
func (t *Tree) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == treeResolved
}

// Err returns the error that failed resolution, if any.
func (t *Tree) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// DeferredNodes returns the ids of the slots that were built as deferred.
func (t *Tree) DeferredNodes() []NodeID {
	return slices.Clone(t.deferred)
}

// State returns the resolution state of a deferred slot.
func (t *Tree) State(id NodeID) (NodeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	return s, ok
}

func (t *Tree) setState(id NodeID, s NodeState) {
	t.mu.Lock()
	t.states[id] = s
	t.mu.Unlock()
}

// Match evaluates the tree against a record. Children are evaluated in
// order and evaluation short-circuits. Returns ErrUnresolved if deferred
// nodes remain.
func (t *Tree) Match(rec *msg.Record) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != treeResolved {
		return false, ErrUnresolved
	}
	return t.match(t.root, rec), nil
}

func (t *Tree) match(id NodeID, rec *msg.Record) bool {
	n := &t.nodes[id]
	switch n.Op {
	case OpEqual:
		v, ok := n.Field.Extract(rec)
		return ok && bytes.Equal(v, n.Value)
	case OpAbsent:
		_, ok := n.Field.Extract(rec)
		return !ok
	case OpIncludes:
		v, ok := n.Field.Extract(rec)
		if !ok || n.Pluck == nil {
			return false
		}
		for _, candidate := range n.Pluck(v) {
			if bytes.Equal(candidate, n.Value) {
				return true
			}
		}
		return false
	case OpAnd:
		for _, c := range n.Children {
			if !t.match(c, rec) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range n.Children {
			if t.match(c, rec) {
				return true
			}
		}
		return false
	case OpNot:
		return !t.match(n.Children[0], rec)
	default:
		return false
	}
}

// String renders the tree, including unresolved deferred slots.
func (t *Tree) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b strings.Builder
	t.write(&b, t.root)
	return b.String()
}

func (t *Tree) write(b *strings.Builder, id NodeID) {
	n := &t.nodes[id]
	switch n.Op {
	case OpEqual:
		b.WriteString(leafString(n.Field.Name, "==", n.Value, n.Hint))
	case OpIncludes:
		b.WriteString(leafString(n.Field.Name, "has", n.Value, n.Hint))
	case OpAbsent:
		b.WriteString("absent(" + n.Field.Name + ") [" + n.Hint.String() + "]")
	case OpNot:
		b.WriteString("NOT ")
		t.write(b, n.Children[0])
	case OpAnd, OpOr:
		sep, empty := " AND ", "all"
		if n.Op == OpOr {
			sep, empty = " OR ", "none"
		}
		if len(n.Children) == 0 {
			b.WriteString("(" + empty + ")")
			return
		}
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			t.write(b, c)
		}
		b.WriteByte(')')
	case OpDeferred:
		b.WriteString("deferred(" + n.deferred.Index)
		if n.deferred.Key != "" {
			b.WriteString(", " + strconv.Quote(n.deferred.Key))
		}
		b.WriteByte(')')
	}
}
