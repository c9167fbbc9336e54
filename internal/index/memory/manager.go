// Package memory provides an in-memory feed log with incrementally
// maintained indexes. It implements index.Registry: every index drains the
// log on its own schedule, and callers can wait for an index to reach a
// given offset.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"feedquery/internal/index"
	"feedquery/internal/logging"
	"feedquery/internal/msg"
)

var (
	ErrDuplicateIndex = errors.New("duplicate index name")
	ErrNotLookuper    = errors.New("index does not support lookups")
	ErrMessageExists  = errors.New("message already in log")
	ErrNoSuchMessage  = errors.New("message not in log")
)

// Config holds configuration for the Manager.
type Config struct {
	// AutoDrain catches every index up in the background after each append.
	// When false, indexes only advance through CatchUp and CatchUpAll.
	AutoDrain bool

	// Logger for structured logging. If nil, logging is disabled.
	// The manager scopes this logger with component="log-manager".
	Logger *slog.Logger
}

// Manager owns an append-only log and the indexes built over it.
//
// Logging:
//   - Logger is dependency-injected via Config.Logger
//   - Manager owns its scoped logger (component="log-manager", type="memory")
//   - Logging is intentionally sparse; only catch-up and deletes are logged
//   - No logging in hot paths (Append, Lookup, Record)
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	records []msg.Record
	offsets map[string]uint64 // key -> offset, the log's own directory
	indexes map[string]*indexState
	names   []string
	helper  *index.CatchUpHelper
	logger  *slog.Logger
}

type indexState struct {
	indexer    index.Indexer
	drained    uint64
	nextWaiter uint64
	waiters    map[uint64]waiter
}

type waiter struct {
	offset uint64
	fn     func()
}

// NewManager creates a Manager maintaining the given indexes.
func NewManager(cfg Config, indexers ...index.Indexer) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		offsets: make(map[string]uint64),
		indexes: make(map[string]*indexState, len(indexers)),
		helper:  index.NewCatchUpHelper(),
		logger:  logging.Default(cfg.Logger).With("component", "log-manager", "type", "memory"),
	}
	for _, idx := range indexers {
		name := idx.Name()
		if _, ok := m.indexes[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIndex, name)
		}
		m.indexes[name] = &indexState{indexer: idx, waiters: make(map[uint64]waiter)}
		m.names = append(m.names, name)
	}
	return m, nil
}

// Append encodes v, assigns it the next offset, and appends it.
// meta is the record's meta block; nil for public records.
func (m *Manager) Append(v msg.Value, meta []byte) (msg.Record, error) {
	rec, err := msg.New(v)
	if err != nil {
		return msg.Record{}, err
	}
	rec.Frame.Meta = meta
	return m.AppendRecord(rec)
}

// AppendRecord appends an already encoded record. The frame offset is
// assigned by the log.
func (m *Manager) AppendRecord(rec msg.Record) (msg.Record, error) {
	m.mu.Lock()
	if _, ok := m.offsets[rec.Key]; ok {
		m.mu.Unlock()
		return msg.Record{}, fmt.Errorf("%w: %s", ErrMessageExists, rec.Key)
	}
	rec.Frame.Offset = uint64(len(m.records))
	rec.Frame.Tombstoned = false
	m.records = append(m.records, rec)
	m.offsets[rec.Key] = rec.Frame.Offset
	m.mu.Unlock()

	if m.cfg.AutoDrain {
		go func() {
			if err := m.CatchUpAll(context.Background()); err != nil {
				m.logger.Error("background catch-up failed", "error", err)
			}
		}()
	}
	return rec, nil
}

// Delete tombstones the record with the given key. Indexes that already
// hold it and support removal drop it.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	off, ok := m.offsets[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSuchMessage, key)
	}
	orig := m.records[off]
	m.records[off] = orig.Tombstone()
	delete(m.offsets, key)

	var removers []index.Remover
	for _, name := range m.names {
		st := m.indexes[name]
		if r, ok := st.indexer.(index.Remover); ok && st.drained > off {
			removers = append(removers, r)
		}
	}
	m.mu.Unlock()

	for _, r := range removers {
		r.Remove(orig)
	}
	m.logger.Info("message deleted", "key", key, "offset", off)
	return nil
}

// DeleteFeed tombstones every record authored by feed and returns how many
// it tombstoned. Records deleted concurrently by someone else are skipped.
func (m *Manager) DeleteFeed(feed string) (int, error) {
	m.mu.Lock()
	var keys []string
	for _, rec := range m.records {
		if !rec.Frame.Tombstoned && rec.Value.Author == feed {
			keys = append(keys, rec.Key)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, key := range keys {
		err := m.Delete(key)
		if errors.Is(err, ErrNoSuchMessage) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Record returns the record at offset.
func (m *Manager) Record(offset uint64) (msg.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= uint64(len(m.records)) {
		return msg.Record{}, false
	}
	return m.records[offset], true
}

// Records iterates the log from offset 0 up to the tail at call time.
func (m *Manager) Records() iter.Seq[msg.Record] {
	tail := m.TailOffset()
	return func(yield func(msg.Record) bool) {
		for off := range tail {
			rec, _ := m.Record(off)
			if !yield(rec) {
				return
			}
		}
	}
}

// TailOffset returns the number of records appended so far.
func (m *Manager) TailOffset() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.records))
}

// Names returns the index names in registration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.names...)
}

// Indexer returns the named indexer.
func (m *Manager) Indexer(name string) (index.Indexer, bool) {
	st, ok := m.indexes[name]
	if !ok {
		return nil, false
	}
	return st.indexer, true
}

// Drained returns the offset the named index has processed up to.
func (m *Manager) Drained(name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.indexes[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	return st.drained, nil
}

// OnIndexDrained implements index.Registry.
func (m *Manager) OnIndexDrained(name string, offset uint64, fn func()) (func(), error) {
	m.mu.Lock()
	st, ok := m.indexes[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	if st.drained >= offset {
		m.mu.Unlock()
		fn()
		return func() {}, nil
	}
	id := st.nextWaiter
	st.nextWaiter++
	st.waiters[id] = waiter{offset: offset, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(st.waiters, id)
		m.mu.Unlock()
	}, nil
}

// Waiting returns the number of registrations pending on the named index.
func (m *Manager) Waiting(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.indexes[name]
	if !ok {
		return 0
	}
	return len(st.waiters)
}

// Lookup implements index.Registry.
func (m *Manager) Lookup(_ context.Context, name string, key []byte) ([]byte, error) {
	idx, ok := m.Indexer(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	l, ok := idx.(index.Lookuper)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLookuper, name)
	}
	v, ok := l.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", index.ErrKeyNotFound, key, name)
	}
	return v, nil
}

// CatchUp applies every record the named index has not seen yet, up to at
// least the tail at call time, then fires the drain registrations it
// satisfies. Concurrent calls for the same index share one run.
func (m *Manager) CatchUp(ctx context.Context, name string) (uint64, error) {
	return m.helper.CatchUp(ctx, name, m.TailOffset(), func(ctx context.Context) (uint64, error) {
		return m.drain(ctx, name)
	})
}

// CatchUpAll catches every index up concurrently.
func (m *Manager) CatchUpAll(ctx context.Context) error {
	return m.helper.CatchUpAll(ctx, m.names, m.TailOffset(), m.drain)
}

func (m *Manager) drain(ctx context.Context, name string) (uint64, error) {
	m.mu.Lock()
	st, ok := m.indexes[name]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	from, tail := st.drained, uint64(len(m.records))
	batch := append([]msg.Record(nil), m.records[from:tail]...)
	m.mu.Unlock()

	if len(batch) == 0 {
		return from, nil
	}
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if rec.Frame.Tombstoned {
			continue
		}
		if err := st.indexer.Apply(rec); err != nil {
			return 0, fmt.Errorf("index %s at offset %d: %w", name, rec.Frame.Offset, err)
		}
	}

	m.mu.Lock()
	st.drained = tail
	var fire []func()
	for id, w := range st.waiters {
		if w.offset <= tail {
			fire = append(fire, w.fn)
			delete(st.waiters, id)
		}
	}
	m.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	m.logger.Debug("index caught up", "index", name, "from", from, "to", tail, "woken", len(fire))
	return tail, nil
}
