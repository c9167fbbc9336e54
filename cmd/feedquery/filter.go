package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"feedquery/internal/msg"
	"feedquery/internal/operators"
	"feedquery/internal/predicate"
	"feedquery/internal/query"
	"feedquery/internal/seek"

	"github.com/spf13/cobra"
)

var errConflictingFlags = errors.New("conflicting flags")

// addFilterFlags registers the predicate flags. Every flag given adds one
// term; terms are combined with AND.
func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("type", "", "content type")
	f.String("author", "", "author feed id")
	f.Bool("dedicated", false, "use a dedicated author index")
	f.String("channel", "", "channel name")
	f.String("votes-for", "", "votes on this message key")
	f.String("contact", "", "contact messages about this feed id")
	f.String("about", "", "about messages describing this feed id")
	f.String("mentions", "", "messages mentioning this reference")
	f.String("root", "", "replies in the thread rooted at this message key")
	f.String("fork", "", "messages forked from this message key")
	f.String("branch", "", "messages branching from this message key")
	f.Bool("is-root", false, "messages that start a thread")
	f.Bool("private", false, "private messages only")
	f.Bool("public", false, "public messages only")
	f.StringSlice("key", nil, "message keys (repeatable; any of them)")
	f.StringArray("where", nil, "JSONPath equality, e.g. '$.content.text=hello' (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("private", "public")
}

// exprFromFlags builds the predicate described by cmd's filter flags.
// With no filter flags it matches every message.
func exprFromFlags(cmd *cobra.Command) (predicate.Expr, error) {
	f := cmd.Flags()
	var terms []predicate.Expr

	str := func(name string, build func(string) predicate.Expr) {
		if v, _ := f.GetString(name); v != "" {
			terms = append(terms, build(v))
		}
	}
	ref := func(name string, parse func(string) (string, error), build func(string) predicate.Expr) error {
		v, _ := f.GetString(name)
		if v == "" {
			return nil
		}
		r, err := parse(v)
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		terms = append(terms, build(r))
		return nil
	}

	str("type", operators.Type)
	dedicated, _ := f.GetBool("dedicated")
	if err := ref("author", msg.ParseFeedID, func(feed string) predicate.Expr {
		return operators.Author(feed, operators.AuthorOptions{Dedicated: dedicated})
	}); err != nil {
		return nil, err
	}
	str("channel", operators.Channel)

	refs := []struct {
		name  string
		parse func(string) (string, error)
		build func(string) predicate.Expr
	}{
		{"votes-for", msg.ParseKey, operators.VotesFor},
		{"contact", msg.ParseFeedID, operators.Contact},
		{"about", msg.ParseFeedID, operators.About},
		{"root", msg.ParseKey, operators.HasRoot},
		{"fork", msg.ParseKey, operators.HasFork},
		{"branch", msg.ParseKey, operators.HasBranch},
	}
	for _, r := range refs {
		if err := ref(r.name, r.parse, r.build); err != nil {
			return nil, err
		}
	}
	str("mentions", operators.Mentions)

	isRoot, _ := f.GetBool("is-root")
	rootKey, _ := f.GetString("root")
	if isRoot && rootKey != "" {
		return nil, fmt.Errorf("%w: --is-root and --root", errConflictingFlags)
	}
	if isRoot {
		terms = append(terms, operators.IsRoot())
	}
	if v, _ := f.GetBool("private"); v {
		terms = append(terms, operators.IsPrivate())
	}
	if v, _ := f.GetBool("public"); v {
		terms = append(terms, operators.IsPublic())
	}

	keys, _ := f.GetStringSlice("key")
	if len(keys) > 0 {
		var anyOf []predicate.Expr
		for _, k := range keys {
			key, err := msg.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("--key: %w", err)
			}
			anyOf = append(anyOf, operators.Key(key))
		}
		terms = append(terms, predicate.Or(anyOf...))
	}

	wheres, _ := f.GetStringArray("where")
	for _, w := range wheres {
		e, err := whereExpr(w)
		if err != nil {
			return nil, fmt.Errorf("--where %q: %w", w, err)
		}
		terms = append(terms, e)
	}

	if len(terms) == 1 {
		return terms[0], nil
	}
	return predicate.And(terms...), nil
}

// whereExpr parses "path=value" into an equality on a JSONPath field. No
// index serves these; they are checked per record.
func whereExpr(s string) (predicate.Expr, error) {
	path, value, ok := strings.Cut(s, "=")
	if !ok || path == "" {
		return nil, fmt.Errorf("want path=value")
	}
	field, err := seek.Path(path, path)
	if err != nil {
		return nil, err
	}
	return predicate.Equal(field, []byte(value), predicate.Full("path:"+path)), nil
}

// queryFromFlags builds the query for the query command.
func queryFromFlags(cmd *cobra.Command) (query.Query, error) {
	expr, err := exprFromFlags(cmd)
	if err != nil {
		return query.Query{}, err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	reverse, _ := cmd.Flags().GetBool("reverse")
	after, _ := cmd.Flags().GetString("after")

	q := query.Query{Expr: expr, Limit: limit, IsReverse: reverse}
	if after != "" {
		off, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			return query.Query{}, fmt.Errorf("--after: %w", err)
		}
		q.Resume = &off
	}
	return q, nil
}
