package index

import (
	"context"

	"feedquery/internal/callgroup"

	"golang.org/x/sync/errgroup"
)

// CatchUpHelper deduplicates concurrent catch-up calls for the same index
// and parallelizes catch-up across indexes.
type CatchUpHelper struct {
	group callgroup.Group[string, uint64]
}

func NewCatchUpHelper() *CatchUpHelper {
	return &CatchUpHelper{}
}

// CatchUp runs fn for the named index until it reports a drained offset of
// at least target. If a catch-up for the same index is already in flight,
// this call shares it; a shared run that stopped short of target is
// followed by another. If the caller's context is cancelled while waiting,
// it returns the context error without cancelling the in-flight run.
func (h *CatchUpHelper) CatchUp(ctx context.Context, name string, target uint64, fn func(context.Context) (uint64, error)) (uint64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		ch := h.group.DoChan(name, func() (uint64, error) {
			// Detach from the initiator's context so that cancelling one caller
			// does not abort the shared run.
			return fn(context.WithoutCancel(ctx))
		})

		select {
		case res := <-ch:
			if res.Err != nil || res.Val >= target {
				return res.Val, res.Err
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// CatchUpAll runs CatchUp for every name concurrently.
func (h *CatchUpHelper) CatchUpAll(ctx context.Context, names []string, target uint64, fn func(context.Context, string) (uint64, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := h.CatchUp(gctx, name, target, func(ctx context.Context) (uint64, error) {
				return fn(ctx, name)
			})
			return err
		})
	}
	return g.Wait()
}
