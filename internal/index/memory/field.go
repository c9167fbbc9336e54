package memory

import (
	"slices"
	"sync"

	"feedquery/internal/msg"
	"feedquery/internal/seek"
)

// FieldConfig describes a posting index over one field.
type FieldConfig struct {
	Name  string
	Field seek.Field

	// Pluck indexes every plucked value instead of the field value itself.
	Pluck seek.Pluck

	// PrefixLength > 0 keys the index on value[PrefixOffset:PrefixOffset+PrefixLength].
	// Values too short for the window are keyed on the whole value.
	PrefixLength int
	PrefixOffset int
}

// FieldIndex maps field values (or their prefix window) to the offsets of
// the records holding them. Postings are a superset of the exact matches
// when the index is prefix keyed; callers re-check candidates.
type FieldIndex struct {
	cfg      FieldConfig
	mu       sync.RWMutex
	postings map[string][]uint64
}

// NewFieldIndex creates an empty field index.
func NewFieldIndex(cfg FieldConfig) *FieldIndex {
	return &FieldIndex{cfg: cfg, postings: make(map[string][]uint64)}
}

func (f *FieldIndex) Name() string {
	return f.cfg.Name
}

// Config returns the index configuration.
func (f *FieldIndex) Config() FieldConfig {
	return f.cfg
}

func (f *FieldIndex) Apply(rec msg.Record) error {
	keys := f.keys(&rec)
	if len(keys) == 0 {
		return nil
	}
	f.mu.Lock()
	for _, k := range keys {
		f.postings[k] = append(f.postings[k], rec.Frame.Offset)
	}
	f.mu.Unlock()
	return nil
}

func (f *FieldIndex) Remove(rec msg.Record) {
	keys := f.keys(&rec)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		offs := slices.DeleteFunc(f.postings[k], func(off uint64) bool {
			return off == rec.Frame.Offset
		})
		if len(offs) == 0 {
			delete(f.postings, k)
		} else {
			f.postings[k] = offs
		}
	}
}

// Postings returns the offsets of records whose value matches value under
// this index's keying, in ascending order.
func (f *FieldIndex) Postings(value []byte) []uint64 {
	k := f.window(value)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.postings[k])
}

func (f *FieldIndex) keys(rec *msg.Record) []string {
	v, ok := f.cfg.Field.Extract(rec)
	if !ok {
		return nil
	}
	values := [][]byte{v}
	if f.cfg.Pluck != nil {
		values = f.cfg.Pluck(v)
	}
	keys := make([]string, 0, len(values))
	for _, v := range values {
		if k := f.window(v); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// shortKey marks keys holding a whole value that did not fill the prefix
// window, so they never collide with a window key.
const shortKey = "\x00"

func (f *FieldIndex) window(value []byte) string {
	if f.cfg.PrefixLength <= 0 {
		return string(value)
	}
	end := f.cfg.PrefixOffset + f.cfg.PrefixLength
	if len(value) < end {
		return shortKey + string(value)
	}
	return string(value[f.cfg.PrefixOffset:end])
}
