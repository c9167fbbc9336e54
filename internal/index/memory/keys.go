package memory

import (
	"sync"

	"feedquery/internal/msg"
)

// KeysIndex maps message keys to log offsets.
type KeysIndex struct {
	name string
	mu   sync.RWMutex
	keys map[string]uint64
}

// NewKeysIndex creates an empty keys index registered under name.
func NewKeysIndex(name string) *KeysIndex {
	return &KeysIndex{name: name, keys: make(map[string]uint64)}
}

func (k *KeysIndex) Name() string {
	return k.name
}

func (k *KeysIndex) Apply(rec msg.Record) error {
	k.mu.Lock()
	k.keys[rec.Key] = rec.Frame.Offset
	k.mu.Unlock()
	return nil
}

func (k *KeysIndex) Remove(rec msg.Record) {
	k.mu.Lock()
	delete(k.keys, rec.Key)
	k.mu.Unlock()
}

// Lookup returns the encoded offset of the message key.
func (k *KeysIndex) Lookup(key []byte) ([]byte, bool) {
	k.mu.RLock()
	off, ok := k.keys[string(key)]
	k.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return msg.OffsetKey(off), true
}

// Len returns the number of keys held.
func (k *KeysIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// SeqIndex answers postings for the internal key itself: the offset. It
// stores nothing; an offset is its own posting list.
type SeqIndex struct {
	name string
	mu   sync.RWMutex
	tail uint64
}

// NewSeqIndex creates a seq index registered under name.
func NewSeqIndex(name string) *SeqIndex {
	return &SeqIndex{name: name}
}

func (s *SeqIndex) Name() string {
	return s.name
}

func (s *SeqIndex) Apply(rec msg.Record) error {
	s.mu.Lock()
	s.tail = max(s.tail, rec.Frame.Offset+1)
	s.mu.Unlock()
	return nil
}

// Postings returns the offset encoded in value if the index has seen it.
func (s *SeqIndex) Postings(value []byte) []uint64 {
	off, ok := msg.ParseOffsetKey(value)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off >= s.tail {
		return nil
	}
	return []uint64{off}
}
