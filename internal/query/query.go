// Package query provides a reference executor for predicate trees. It sits
// above the log and its indexes: it resolves deferred predicates, picks
// candidate offsets from the indexes named by each leaf's hint, and filters
// candidates with the tree itself.
package query

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"feedquery/internal/index"
	"feedquery/internal/logging"
	"feedquery/internal/msg"
	"feedquery/internal/predicate"

	"github.com/google/uuid"
)

// Store is what the engine needs from the log and its indexes.
type Store interface {
	index.Registry

	// Record returns the record at offset.
	Record(offset uint64) (msg.Record, bool)

	// Indexer returns the index maintained under name.
	Indexer(name string) (index.Indexer, bool)

	// CatchUp drains the named index up to the current tail.
	CatchUp(ctx context.Context, name string) (uint64, error)
}

// Query describes what records to search for.
type Query struct {
	Expr predicate.Expr

	// Result control
	IsReverse bool // return results newest-first
	Limit     int  // max results (0 = unlimited)

	// Resume continues after this offset in the query's direction.
	Resume *uint64
}

// Config holds configuration for the Engine.
type Config struct {
	// Limit caps every query's results when the query sets none. 0 = unlimited.
	Limit int

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// Engine executes queries against a Store.
//
// Logging:
//   - Logger is dependency-injected via Config.Logger
//   - Engine owns its scoped logger (component="query-engine")
//   - One debug line per query; nothing per record
type Engine struct {
	store    Store
	cfg      Config
	resolver *predicate.Resolver
	logger   *slog.Logger
}

// New creates an Engine over store.
func New(store Store, cfg Config) *Engine {
	logger := logging.Default(cfg.Logger).With("component", "query-engine")
	return &Engine{
		store:    store,
		cfg:      cfg,
		resolver: predicate.NewResolver(logger),
		logger:   logger,
	}
}

// Prepare builds and resolves the query's predicate tree. It blocks until
// every deferred predicate's index has drained to the log tail at build time.
func (e *Engine) Prepare(ctx context.Context, expr predicate.Expr) (*predicate.Tree, error) {
	tree, err := predicate.BuildFor(expr, e.store)
	if err != nil {
		return nil, fmt.Errorf("build predicate: %w", err)
	}
	if tree.Ready() {
		return tree, nil
	}
	if err := e.resolver.Resolve(ctx, tree, e.store); err != nil {
		return nil, err
	}
	return tree, nil
}

// Search returns the records matching q in log order (or reverse order).
// The tree is prepared before the first record is yielded; preparation
// errors are yielded as the only element. The returned next function
// reports the offset to resume from if iteration stopped early, or nil when
// all matches were returned.
func (e *Engine) Search(ctx context.Context, q Query) (iter.Seq2[msg.Record, error], func() *uint64) {
	var last *uint64
	completed := false

	seq := func(yield func(msg.Record, error) bool) {
		id := uuid.NewString()
		tree, err := e.Prepare(ctx, q.Expr)
		if err != nil {
			yield(msg.Record{}, err)
			return
		}

		tail := e.store.TailOffset()
		plan, err := e.plan(ctx, tree, tail)
		if err != nil {
			yield(msg.Record{}, err)
			return
		}
		e.logger.Debug("search", "query", id, "tree", tree.String(), "scan", plan.ScanMode, "candidates", plan.Estimated, "tail", tail)

		limit := q.Limit
		if limit == 0 {
			limit = e.cfg.Limit
		}
		count := 0
		for off := range plan.offsets(tail, q.IsReverse) {
			if q.Resume != nil && !after(off, *q.Resume, q.IsReverse) {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(msg.Record{}, err)
				return
			}
			rec, ok := e.store.Record(off)
			if !ok || rec.Frame.Tombstoned {
				continue
			}
			match, err := tree.Match(&rec)
			if err != nil {
				yield(msg.Record{}, err)
				return
			}
			if !match {
				continue
			}
			if limit > 0 && count >= limit {
				return
			}
			last = &off
			if !yield(rec, nil) {
				return
			}
			count++
		}
		completed = true
	}

	next := func() *uint64 {
		if completed {
			return nil
		}
		return last
	}
	return seq, next
}

// All collects every result of q.
func (e *Engine) All(ctx context.Context, q Query) ([]msg.Record, error) {
	seq, _ := e.Search(ctx, q)
	var out []msg.Record
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func after(off, resume uint64, reverse bool) bool {
	if reverse {
		return off < resume
	}
	return off > resume
}

// offsets iterates the plan's candidates below tail in the requested order.
func (p *QueryPlan) offsets(tail uint64, reverse bool) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		switch {
		case p.ScanMode == ScanEmpty:
			return
		case p.ScanMode == ScanSequential && !reverse:
			for off := range tail {
				if !yield(off) {
					return
				}
			}
		case p.ScanMode == ScanSequential:
			for off := tail; off > 0; off-- {
				if !yield(off - 1) {
					return
				}
			}
		case !reverse:
			for _, off := range p.candidates {
				if !yield(off) {
					return
				}
			}
		default:
			for _, off := range slices.Backward(p.candidates) {
				if !yield(off) {
					return
				}
			}
		}
	}
}
