package predicate

import (
	"errors"
	"fmt"
)

// Construction errors.
var (
	ErrInvalidHint = errors.New("invalid index hint")
	ErrNilTarget   = errors.New("equality target is nil")
	ErrNilExpr     = errors.New("nil expression")
	ErrNoResolver  = errors.New("deferred predicate has no resolver")
)

// Resolution and evaluation errors.
var (
	ErrUnresolved        = errors.New("predicate tree has unresolved deferred nodes")
	ErrAlreadyResolved   = errors.New("predicate tree already resolved")
	ErrResolveInProgress = errors.New("predicate tree resolution in progress")
	ErrNoValue           = errors.New("resolver returned no value")
)

// HintError reports an index hint that cannot serve the field it is
// attached to.
type HintError struct {
	Field     string // field name the predicate reads
	IndexType string
	Reason    string
}

func (e *HintError) Error() string {
	return fmt.Sprintf("invalid index hint %q on %s: %s", e.IndexType, e.Field, e.Reason)
}

func (e *HintError) Unwrap() error {
	return ErrInvalidHint
}

// ResolveError reports a deferred node whose lookup failed.
type ResolveError struct {
	Index string // index the node waited on
	Err   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve deferred predicate on %s: %v", e.Index, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
