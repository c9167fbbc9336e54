package predicate

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"feedquery/internal/callgroup"
	"feedquery/internal/index"
	"feedquery/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Resolver turns deferred nodes into concrete leaves. A Resolver may be
// shared by concurrent queries: identical lookups that wait on the same
// index for the same tail offset run once.
//
// Logging:
//   - Logger is dependency-injected via NewResolver
//   - Only resolution failures are logged; successful resolutions are silent
type Resolver struct {
	lookups callgroup.Group[string, []byte]
	logger  *slog.Logger
}

// NewResolver creates a Resolver. If logger is nil, logging is disabled.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logging.Default(logger).With("component", "resolver"),
	}
}

// Resolve makes t ready using a fresh Resolver.
func (t *Tree) Resolve(ctx context.Context, reg index.Registry) error {
	return NewResolver(nil).Resolve(ctx, t, reg)
}

// Resolve makes t ready for evaluation.
//
// The log tail is the one recorded by BuildFor, or else read once when
// Resolve starts. Every deferred node waits for its index to drain up to
// that offset, then runs its lookup; nodes
// resolve concurrently. Substitution happens only after every node has
// succeeded. On failure the tree is left unresolved, marked failed, and the
// first error is returned; later calls return the same error.
//
// Resolving a tree a second time returns ErrAlreadyResolved. A tree built
// without deferred nodes is already resolved.
func (r *Resolver) Resolve(ctx context.Context, t *Tree, reg index.Registry) error {
	t.mu.Lock()
	switch t.state {
	case treeResolved:
		t.mu.Unlock()
		return ErrAlreadyResolved
	case treeResolving:
		t.mu.Unlock()
		return ErrResolveInProgress
	case treeFailed:
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.state = treeResolving
	slots := t.deferred
	specs := make([]DeferredSpec, len(slots))
	for i, id := range slots {
		specs[i] = *t.nodes[id].deferred
	}
	tail, hasTail := t.tail, t.hasTail
	t.mu.Unlock()

	if !hasTail {
		tail = reg.TailOffset()
	}
	resolved := make([]Node, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range slots {
		g.Go(func() error {
			n, err := r.resolveNode(gctx, t, id, specs[i], reg, tail)
			if err != nil {
				t.setState(id, StateFailed)
				return err
			}
			resolved[i] = n
			return nil
		})
	}
	err := g.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = treeFailed
		t.err = err
		r.logger.Warn("predicate resolution failed",
			"resolution", uuid.NewString(), "tail", tail, "deferred", len(slots), "error", err)
		return err
	}
	for i, id := range slots {
		t.nodes[id] = resolved[i]
		t.states[id] = StateResolved
	}
	t.state = treeResolved
	return nil
}

func (r *Resolver) resolveNode(ctx context.Context, t *Tree, id NodeID, spec DeferredSpec, reg index.Registry, tail uint64) (Node, error) {
	t.setState(id, StateWaiting)
	if err := waitDrained(ctx, reg, spec.Index, tail); err != nil {
		return Node{}, &ResolveError{Index: spec.Index, Err: err}
	}

	value, err := r.lookup(ctx, spec, reg, tail)
	if err != nil {
		return Node{}, &ResolveError{Index: spec.Index, Err: err}
	}
	if value == nil {
		return Node{}, &ResolveError{Index: spec.Index, Err: ErrNoValue}
	}

	if spec.Pluck != nil {
		return Node{Op: OpIncludes, Field: spec.Field, Pluck: spec.Pluck, Value: value, Hint: spec.Hint}, nil
	}
	return Node{Op: OpEqual, Field: spec.Field, Value: value, Hint: spec.Hint}, nil
}

// lookup runs spec.Resolve, sharing the call with identical in-flight
// lookups when the spec names a key.
func (r *Resolver) lookup(ctx context.Context, spec DeferredSpec, reg index.Registry, tail uint64) ([]byte, error) {
	if spec.Key == "" {
		return spec.Resolve(ctx, reg)
	}
	key := spec.Index + "\x00" + strconv.FormatUint(tail, 10) + "\x00" + spec.Key
	ch := r.lookups.DoChan(key, func() ([]byte, error) {
		return spec.Resolve(context.WithoutCancel(ctx), reg)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitDrained blocks until the named index has drained to offset. The
// registration is dropped if ctx ends first.
func waitDrained(ctx context.Context, reg index.Registry, name string, offset uint64) error {
	drained := make(chan struct{})
	var once sync.Once
	cancel, err := reg.OnIndexDrained(name, offset, func() {
		once.Do(func() { close(drained) })
	})
	if err != nil {
		return err
	}
	defer cancel()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
