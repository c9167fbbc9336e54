package msg

import "encoding/binary"

// Meta block layout. Public records carry no meta block.
const (
	MetaPrivateOffset = 0
	MetaLen           = 1

	// PrivateFlag marks a record whose content was encrypted to its recipients.
	PrivateFlag byte = 1
)

// Frame is the framing metadata the log assigns to a record.
type Frame struct {
	// Offset is the record's position in the log. It is the internal key
	// indexes store.
	Offset uint64

	// Meta is the fixed-layout meta block, nil for public records.
	Meta []byte

	// Tombstoned is set once the record has been deleted. The log clears
	// Raw and Meta at the same time.
	Tombstoned bool
}

// PrivateMeta returns the meta block of a private record.
func PrivateMeta() []byte {
	meta := make([]byte, MetaLen)
	meta[MetaPrivateOffset] = PrivateFlag
	return meta
}

// OffsetKey encodes a log offset in the form indexes store it.
func OffsetKey(offset uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, offset)
}

// ParseOffsetKey is the inverse of OffsetKey.
func ParseOffsetKey(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// Tombstone returns a copy of r with its content removed.
func (r Record) Tombstone() Record {
	r.Raw = nil
	r.Value.Content = nil
	r.Frame.Meta = nil
	r.Frame.Tombstoned = true
	return r
}
