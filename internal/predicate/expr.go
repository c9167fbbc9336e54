// Package predicate provides the predicate algebra used to query the feed
// log.
//
// Callers compose immutable expressions with Equal, Absent, Includes, And,
// Or, Not, and Deferred. Every leaf carries the field it reads, a comparison
// value, and an IndexHint telling the executor which index should back it.
// Build flattens an expression into a Tree. A Tree holding Deferred nodes is
// not ready: Resolve waits for each node's index to drain up to the log tail,
// runs its lookup, and substitutes a concrete leaf. Only then can the tree be
// matched or handed to an executor.
//
// This package does not own any index and never scans the log.
package predicate

import (
	"context"
	"strconv"
	"strings"

	"feedquery/internal/index"
	"feedquery/internal/seek"
)

// Op identifies the kind of a predicate node.
type Op int

const (
	OpEqual Op = iota
	OpAbsent
	OpIncludes
	OpAnd
	OpOr
	OpNot
	OpDeferred
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpAbsent:
		return "absent"
	case OpIncludes:
		return "includes"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	case OpDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Expr is an immutable predicate expression.
// The marker method prevents external types from implementing Expr.
type Expr interface {
	expr()
	// String returns a human-readable representation of the expression.
	String() string
}

// EqualExpr matches records whose field is present and equal to Value.
type EqualExpr struct {
	Field seek.Field
	Value []byte
	Hint  IndexHint
	err   error
}

// AbsentExpr matches records lacking the field.
type AbsentExpr struct {
	Field seek.Field
	Hint  IndexHint
	err   error
}

// IncludesExpr matches records where Pluck yields Value from the field.
type IncludesExpr struct {
	Field seek.Field
	Pluck seek.Pluck
	Value []byte
	Hint  IndexHint
	err   error
}

// AndExpr matches when every term matches. No terms matches everything.
type AndExpr struct {
	Terms []Expr
}

// OrExpr matches when any term matches. No terms matches nothing.
type OrExpr struct {
	Terms []Expr
}

// NotExpr negates its term.
type NotExpr struct {
	Term Expr
}

// ResolveFunc looks up the concrete comparison value of a deferred node.
// It runs only after the node's index has drained to the log tail.
type ResolveFunc func(ctx context.Context, reg index.Registry) ([]byte, error)

// DeferredSpec describes a leaf whose value is not known until a lookup
// against a named index completes.
type DeferredSpec struct {
	// Index is the index that must drain before Resolve runs.
	Index string

	// Key identifies the lookup for sharing between identical in-flight
	// resolutions. Empty disables sharing.
	Key string

	// Field, Pluck and Hint shape the concrete leaf: Includes when Pluck is
	// set, Equal otherwise.
	Field seek.Field
	Pluck seek.Pluck
	Hint  IndexHint

	Resolve ResolveFunc
}

// DeferredExpr is a leaf resolved at tree readiness time.
type DeferredExpr struct {
	Spec DeferredSpec
	err  error
}

func (*EqualExpr) expr()    {}
func (*AbsentExpr) expr()   {}
func (*IncludesExpr) expr() {}
func (*AndExpr) expr()      {}
func (*OrExpr) expr()       {}
func (*NotExpr) expr()      {}
func (*DeferredExpr) expr() {}

// Equal matches when field's value equals target. An absent field never
// matches. To match absence use Absent.
func Equal(field seek.Field, target []byte, hint IndexHint) Expr {
	e := &EqualExpr{Field: field, Value: target, Hint: hint}
	if target == nil {
		e.err = ErrNilTarget
	} else {
		e.err = hint.validate(field, OpEqual)
	}
	return e
}

// Absent matches when field is absent.
func Absent(field seek.Field, hint IndexHint) Expr {
	return &AbsentExpr{Field: field, Hint: hint, err: hint.validate(field, OpAbsent)}
}

// Includes matches when pluck(field) contains target.
func Includes(field seek.Field, pluck seek.Pluck, target []byte, hint IndexHint) Expr {
	e := &IncludesExpr{Field: field, Pluck: pluck, Value: target, Hint: hint}
	if target == nil {
		e.err = ErrNilTarget
	} else {
		e.err = hint.validate(field, OpIncludes)
	}
	return e
}

// And combines terms with conjunction, flattening nested AndExprs.
func And(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if a, ok := t.(*AndExpr); ok {
			flat = append(flat, a.Terms...)
		} else {
			flat = append(flat, t)
		}
	}
	return &AndExpr{Terms: flat}
}

// Or combines terms with disjunction, flattening nested OrExprs.
func Or(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if o, ok := t.(*OrExpr); ok {
			flat = append(flat, o.Terms...)
		} else {
			flat = append(flat, t)
		}
	}
	return &OrExpr{Terms: flat}
}

// Not negates term.
func Not(term Expr) Expr {
	return &NotExpr{Term: term}
}

// Deferred returns a leaf resolved by spec.Resolve once spec.Index drains.
func Deferred(spec DeferredSpec) Expr {
	e := &DeferredExpr{Spec: spec}
	op := OpEqual
	if spec.Pluck != nil {
		op = OpIncludes
	}
	switch {
	case spec.Resolve == nil:
		e.err = ErrNoResolver
	case spec.Index == "":
		e.err = &HintError{Field: spec.Field.Name, Reason: "deferred node names no index"}
	default:
		e.err = spec.Hint.validate(spec.Field, op)
	}
	return e
}

// Validate reports the first construction error in expr.
func Validate(expr Expr) error {
	switch e := expr.(type) {
	case nil:
		return ErrNilExpr
	case *EqualExpr:
		return e.err
	case *AbsentExpr:
		return e.err
	case *IncludesExpr:
		return e.err
	case *DeferredExpr:
		return e.err
	case *NotExpr:
		return Validate(e.Term)
	case *AndExpr:
		return validateAll(e.Terms)
	case *OrExpr:
		return validateAll(e.Terms)
	default:
		return ErrNilExpr
	}
}

func validateAll(terms []Expr) error {
	for _, t := range terms {
		if err := Validate(t); err != nil {
			return err
		}
	}
	return nil
}

func (e *EqualExpr) String() string {
	return leafString(e.Field.Name, "==", e.Value, e.Hint)
}

func (e *AbsentExpr) String() string {
	return "absent(" + e.Field.Name + ") [" + e.Hint.String() + "]"
}

func (e *IncludesExpr) String() string {
	return leafString(e.Field.Name, "has", e.Value, e.Hint)
}

func (a *AndExpr) String() string {
	return joinTerms(a.Terms, " AND ", "all")
}

func (o *OrExpr) String() string {
	return joinTerms(o.Terms, " OR ", "none")
}

func (n *NotExpr) String() string {
	if n.Term == nil {
		return "NOT <nil>"
	}
	return "NOT " + n.Term.String()
}

func (d *DeferredExpr) String() string {
	if d.Spec.Key != "" {
		return "deferred(" + d.Spec.Index + ", " + strconv.Quote(d.Spec.Key) + ")"
	}
	return "deferred(" + d.Spec.Index + ")"
}

func leafString(field, op string, value []byte, hint IndexHint) string {
	return field + " " + op + " " + strconv.Quote(string(value)) + " [" + hint.String() + "]"
}

func joinTerms(terms []Expr, sep, empty string) string {
	if len(terms) == 0 {
		return "(" + empty + ")"
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		if t == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
