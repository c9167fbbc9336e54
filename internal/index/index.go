// Package index defines what the predicate layer consumes from the index
// layer: a drain signal per named index, point lookups, and the log's tail
// offset. Index storage and maintenance live behind these interfaces.
package index

import (
	"context"
	"errors"

	"feedquery/internal/msg"
)

var (
	ErrIndexNotFound = errors.New("index not found")
	ErrKeyNotFound   = errors.New("key not found")
)

// Registry is the capability handed to deferred resolution.
type Registry interface {
	// OnIndexDrained registers fn to run exactly once, when the named
	// index's drained offset reaches offset. If it already has, fn runs
	// before OnIndexDrained returns. The returned cancel func drops a
	// registration that has not fired yet; calling it after fn ran is a
	// no-op.
	OnIndexDrained(name string, offset uint64, fn func()) (cancel func(), err error)

	// Lookup performs a point lookup in the named index.
	// Returns ErrKeyNotFound if the key is not present.
	Lookup(ctx context.Context, name string, key []byte) ([]byte, error)

	// TailOffset returns the number of records appended to the log so far.
	// It never decreases.
	TailOffset() uint64
}

// Indexer maintains one named index incrementally over the log.
type Indexer interface {
	// Name returns the stable identifier predicates refer to through their
	// index hint (e.g. "keys", "value_author").
	Name() string

	// Apply folds one record into the index. Records arrive in offset
	// order, each exactly once.
	Apply(rec msg.Record) error
}

// Lookuper is an Indexer that answers point lookups.
type Lookuper interface {
	Indexer
	Lookup(key []byte) ([]byte, bool)
}

// Remover is an Indexer that can forget a record that was deleted after
// it was applied.
type Remover interface {
	Indexer
	Remove(rec msg.Record)
}

// PostingIndexer is an Indexer that maps a field value to the offsets of
// records carrying it.
type PostingIndexer interface {
	Indexer
	Postings(value []byte) []uint64
}
