// Package memtest provides shared test helpers for creating memory-backed
// logs and query engines, and for publishing fixture messages into them.
package memtest

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"feedquery/internal/index/memory"
	"feedquery/internal/msg"
	"feedquery/internal/query"
)

// Store bundles a memory log manager and a query engine over it.
type Store struct {
	Log *memory.Manager
	QE  *query.Engine
}

// NewStore creates a memory-backed Store with the default index set.
func NewStore(cfg memory.Config) (Store, error) {
	log, err := memory.NewManager(cfg, memory.DefaultIndexers()...)
	if err != nil {
		return Store{}, err
	}
	return Store{Log: log, QE: query.New(log, query.Config{Logger: cfg.Logger})}, nil
}

// MustNewStore is like NewStore but calls t.Fatal on error.
func MustNewStore(t testing.TB, cfg memory.Config) Store {
	t.Helper()
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("memtest.NewStore: %v", err)
	}
	return s
}

// CatchUp drains every index of log.
func CatchUp(t testing.TB, log *memory.Manager) {
	t.Helper()
	if err := log.CatchUpAll(context.Background()); err != nil {
		t.Fatalf("catch up: %v", err)
	}
}

// Feed returns a deterministic feed id derived from n.
func Feed(n byte) string {
	id, err := msg.FeedID(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		panic(err)
	}
	return id
}

// Publisher appends well-formed feed messages, tracking each author's
// sequence and previous key.
type Publisher struct {
	t    testing.TB
	log  *memory.Manager
	seq  map[string]uint64
	prev map[string]string
	now  int64
}

// NewPublisher creates a Publisher appending to log.
func NewPublisher(t testing.TB, log *memory.Manager) *Publisher {
	return &Publisher{
		t:    t,
		log:  log,
		seq:  make(map[string]uint64),
		prev: make(map[string]string),
		now:  1_700_000_000_000,
	}
}

// Publish appends a public message with the given JSON content.
func (p *Publisher) Publish(author, content string) msg.Record {
	p.t.Helper()
	return p.append(author, content, nil)
}

// PublishPrivate appends a message flagged private in its meta block.
func (p *Publisher) PublishPrivate(author, content string) msg.Record {
	p.t.Helper()
	return p.append(author, content, msg.PrivateMeta())
}

func (p *Publisher) append(author, content string, meta []byte) msg.Record {
	p.t.Helper()
	if !json.Valid([]byte(content)) {
		p.t.Fatalf("invalid fixture content: %s", content)
	}
	p.seq[author]++
	p.now++
	v := msg.Value{
		Author:    author,
		Sequence:  p.seq[author],
		Timestamp: p.now,
		Content:   json.RawMessage(content),
	}
	if prev, ok := p.prev[author]; ok {
		v.Previous = &prev
	}
	rec, err := p.log.Append(v, meta)
	if err != nil {
		p.t.Fatalf("append: %v", err)
	}
	p.prev[author] = rec.Key
	return rec
}

// Keys returns the keys of recs in order.
func Keys(recs []msg.Record) []string {
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys
}
