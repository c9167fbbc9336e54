package predicate

import (
	"fmt"
	"strings"

	"feedquery/internal/seek"
)

// IndexKind selects the strategy an executor should prefer for a leaf.
type IndexKind int

const (
	// FullScan asks for a full-value index built by scanning the log,
	// one entry per distinct value.
	FullScan IndexKind = iota

	// HashMap asks for a hash index keyed on the whole field value.
	HashMap

	// PrefixScan asks for an index keyed on a fixed-length window of the
	// value. Candidates must be re-checked against the full value.
	PrefixScan
)

func (k IndexKind) String() string {
	switch k {
	case FullScan:
		return "full"
	case HashMap:
		return "hash"
	case PrefixScan:
		return "prefix"
	default:
		return "unknown"
	}
}

// IndexHint tells an executor which index backs a predicate.
// IndexType is the join key between the predicate and the executor's index;
// it must stay stable for a field for the lifetime of the process.
type IndexHint struct {
	IndexType string
	Kind      IndexKind

	// PrefixLength and PrefixOffset define the window [off, off+len) of the
	// value that a PrefixScan index is keyed on.
	PrefixLength int
	PrefixOffset int

	// UseMap keeps a PrefixScan index as a hash map of prefixes, for sparse
	// high-cardinality targets.
	UseMap bool

	// Dedicated requests an index used by this field alone.
	Dedicated bool
}

// Full returns a full-value hint.
func Full(indexType string) IndexHint {
	return IndexHint{IndexType: indexType, Kind: FullScan}
}

// Hash returns a dedicated hash-map hint.
func Hash(indexType string) IndexHint {
	return IndexHint{IndexType: indexType, Kind: HashMap, Dedicated: true}
}

// Prefix returns a prefix hint over [offset, offset+length).
func Prefix(indexType string, length, offset int, useMap bool) IndexHint {
	return IndexHint{
		IndexType:    indexType,
		Kind:         PrefixScan,
		PrefixLength: length,
		PrefixOffset: offset,
		UseMap:       useMap,
	}
}

// Window returns the part of value a PrefixScan index is keyed on.
// Returns false when value is too short to hold the window.
func (h IndexHint) Window(value []byte) ([]byte, bool) {
	if h.Kind != PrefixScan {
		return value, true
	}
	end := h.PrefixOffset + h.PrefixLength
	if len(value) < end {
		return nil, false
	}
	return value[h.PrefixOffset:end], true
}

func (h IndexHint) String() string {
	var b strings.Builder
	b.WriteString(h.IndexType)
	b.WriteByte(' ')
	b.WriteString(h.Kind.String())
	if h.Kind == PrefixScan {
		fmt.Fprintf(&b, "(%d@%d)", h.PrefixLength, h.PrefixOffset)
	}
	if h.UseMap {
		b.WriteString(" map")
	}
	if h.Dedicated {
		b.WriteString(" dedicated")
	}
	return b.String()
}

// validate checks h against the field it will serve.
func (h IndexHint) validate(f seek.Field, op Op) error {
	fail := func(format string, args ...any) error {
		return &HintError{Field: f.Name, IndexType: h.IndexType, Reason: fmt.Sprintf(format, args...)}
	}

	if h.IndexType == "" {
		return fail("missing index type")
	}
	if h.PrefixLength < 0 || h.PrefixOffset < 0 {
		return fail("negative prefix window %d@%d", h.PrefixLength, h.PrefixOffset)
	}
	if h.Dedicated && h.Kind != HashMap {
		return fail("dedicated index must be a hash map, got %s", h.Kind)
	}

	if h.Kind != PrefixScan {
		if h.PrefixLength != 0 || h.PrefixOffset != 0 || h.UseMap {
			return fail("prefix parameters on %s index", h.Kind)
		}
		return nil
	}

	switch {
	case h.PrefixLength == 0:
		return fail("prefix length is zero")
	case op == OpAbsent:
		return fail("absence cannot be prefix indexed")
	case f.Width == 1:
		return fail("prefix on a one-byte field")
	case f.Width > 0 && h.PrefixOffset+h.PrefixLength > f.Width:
		return fail("prefix window %d+%d exceeds field width %d", h.PrefixOffset, h.PrefixLength, f.Width)
	}
	return nil
}
