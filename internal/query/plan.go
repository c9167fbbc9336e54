package query

import (
	"context"
	"fmt"
	"slices"

	"feedquery/internal/index"
	"feedquery/internal/predicate"
)

// Scan modes.
const (
	ScanIndexed    = "index-driven"
	ScanSequential = "sequential"
	ScanEmpty      = "empty"
)

// QueryPlan describes how a prepared tree will be executed.
type QueryPlan struct {
	Tree        string       // the resolved tree
	ScanMode    string       // ScanIndexed, ScanSequential or ScanEmpty
	BranchPlans []BranchPlan // one per DNF branch
	Estimated   int          // records to check against the tree

	candidates []uint64
}

// BranchPlan describes how one DNF branch is answered.
type BranchPlan struct {
	Index      string   // index the branch's candidates come from, empty if none
	Predicate  string   // the indexed leaf
	Candidates int      // offsets the index produced
	Runtime    []string // leaves checked per record
	Reason     string   // why no index could be used
}

// Explain prepares q's tree and returns its plan without reading records.
func (e *Engine) Explain(ctx context.Context, q Query) (*QueryPlan, error) {
	tree, err := e.Prepare(ctx, q.Expr)
	if err != nil {
		return nil, err
	}
	return e.plan(ctx, tree, e.store.TailOffset())
}

func (e *Engine) plan(ctx context.Context, tree *predicate.Tree, tail uint64) (*QueryPlan, error) {
	branches, err := tree.Branches()
	if err != nil {
		return nil, err
	}
	p := &QueryPlan{Tree: tree.String()}
	if len(branches) == 0 {
		p.ScanMode = ScanEmpty
		return p, nil
	}

	indexed := true
	var union []uint64
	for _, br := range branches {
		bp, offs, err := e.planBranch(ctx, tree, br, tail)
		if err != nil {
			return nil, err
		}
		if bp.Index == "" {
			indexed = false
		}
		union = append(union, offs...)
		p.BranchPlans = append(p.BranchPlans, bp)
	}

	if !indexed {
		p.ScanMode = ScanSequential
		p.Estimated = int(tail)
		return p, nil
	}
	slices.Sort(union)
	p.candidates = slices.Compact(union)
	p.ScanMode = ScanIndexed
	p.Estimated = len(p.candidates)
	return p, nil
}

// planBranch picks the positive leaf whose index yields the fewest
// candidates. Absence cannot be answered from a posting index.
func (e *Engine) planBranch(ctx context.Context, tree *predicate.Tree, br predicate.Conjunction, tail uint64) (BranchPlan, []uint64, error) {
	var bp BranchPlan
	var best []uint64
	bestID := predicate.NodeID(-1)

	for _, id := range br.Positive {
		n := tree.Node(id)
		if n.Op != predicate.OpEqual && n.Op != predicate.OpIncludes {
			continue
		}
		idx, ok := e.store.Indexer(n.Hint.IndexType)
		if !ok {
			continue
		}
		pidx, ok := idx.(index.PostingIndexer)
		if !ok {
			continue
		}
		if _, err := e.store.CatchUp(ctx, n.Hint.IndexType); err != nil {
			return BranchPlan{}, nil, fmt.Errorf("catch up %s: %w", n.Hint.IndexType, err)
		}
		offs := pidx.Postings(n.Value)
		offs = slices.DeleteFunc(offs, func(off uint64) bool { return off >= tail })
		if bestID < 0 || len(offs) < len(best) {
			best, bestID = offs, id
			bp.Index = n.Hint.IndexType
		}
	}

	for _, id := range br.Positive {
		if id != bestID {
			bp.Runtime = append(bp.Runtime, nodeString(tree, id))
		}
	}
	for _, id := range br.Negative {
		bp.Runtime = append(bp.Runtime, "NOT "+nodeString(tree, id))
	}
	if bestID < 0 {
		bp.Reason = "no indexed positive predicate"
		return bp, nil, nil
	}
	bp.Predicate = nodeString(tree, bestID)
	bp.Candidates = len(best)
	return bp, best, nil
}

func nodeString(tree *predicate.Tree, id predicate.NodeID) string {
	n := tree.Node(id)
	switch n.Op {
	case predicate.OpAbsent:
		return predicate.Absent(n.Field, n.Hint).String()
	case predicate.OpIncludes:
		return predicate.Includes(n.Field, n.Pluck, n.Value, n.Hint).String()
	default:
		return predicate.Equal(n.Field, n.Value, n.Hint).String()
	}
}
