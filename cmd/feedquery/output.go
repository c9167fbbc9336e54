package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"feedquery/internal/msg"
	"feedquery/internal/query"
)

// result is the JSON line printed per matching message.
type result struct {
	Offset  uint64    `json:"offset"`
	Key     string    `json:"key"`
	Private bool      `json:"private,omitempty"`
	Value   msg.Value `json:"value"`
}

func runQuery(ctx context.Context, env *env, q query.Query, w io.Writer) error {
	seq, next := env.engine.Search(ctx, q)
	enc := json.NewEncoder(w)
	n := 0
	for rec, err := range seq {
		if err != nil {
			return err
		}
		if err := enc.Encode(result{
			Offset:  rec.Frame.Offset,
			Key:     rec.Key,
			Private: len(rec.Frame.Meta) > msg.MetaPrivateOffset && rec.Frame.Meta[msg.MetaPrivateOffset] == msg.PrivateFlag,
			Value:   rec.Value,
		}); err != nil {
			return err
		}
		n++
	}
	if r := next(); r != nil {
		env.logger.Info("results truncated", "returned", n, "resume", *r)
	}
	return nil
}

// printer handles text or JSON output.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w}
}

// json marshals v as indented JSON.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) plan(plan *query.QueryPlan) error {
	if p.format == "json" {
		return p.json(plan)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "tree:\t%s\n", plan.Tree)
	_, _ = fmt.Fprintf(tw, "scan:\t%s\n", plan.ScanMode)
	_, _ = fmt.Fprintf(tw, "estimated:\t%d\n", plan.Estimated)
	_ = tw.Flush()

	if len(plan.BranchPlans) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(p.w)
	tw = tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BRANCH\tINDEX\tCANDIDATES\tPREDICATE\tFILTERS")
	for i, bp := range plan.BranchPlans {
		index, candidates, pred := bp.Index, strconv.Itoa(bp.Candidates), bp.Predicate
		if index == "" {
			index, candidates, pred = "-", "-", bp.Reason
		}
		filters := strings.Join(bp.Runtime, "; ")
		if filters == "" {
			filters = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, index, candidates, pred, filters)
	}
	return tw.Flush()
}
