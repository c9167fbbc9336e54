package memory

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"feedquery/internal/index"
	"feedquery/internal/operators"
	"feedquery/internal/seek"
)

// Factory parameter keys.
const (
	ParamAutoDrain = "autoDrain"
	ParamIndexes   = "indexes"
)

// DefaultIndexers returns the indexes the operators vocabulary refers to.
func DefaultIndexers() []index.Indexer {
	ref := func(name string, f seek.Field) *FieldIndex {
		return NewFieldIndex(FieldConfig{
			Name:         name,
			Field:        f,
			PrefixLength: operators.RefPrefixLength,
			PrefixOffset: operators.RefPrefixOffset,
		})
	}
	full := func(name string, f seek.Field) *FieldIndex {
		return NewFieldIndex(FieldConfig{Name: name, Field: f})
	}
	return []index.Indexer{
		NewKeysIndex(operators.IndexKeys),
		NewSeqIndex(operators.IndexSeq),
		full(operators.IndexType, seek.Type),
		ref(operators.IndexAuthor, seek.Author),
		full(operators.IndexChannel, seek.Channel),
		ref(operators.IndexVoteLink, seek.VoteLink),
		ref(operators.IndexContact, seek.Contact),
		ref(operators.IndexAbout, seek.About),
		ref(operators.IndexRoot, seek.Root),
		ref(operators.IndexFork, seek.Fork),
		ref(operators.IndexBranch, seek.Branch),
		NewFieldIndex(FieldConfig{
			Name:  operators.IndexMentionsLink,
			Field: seek.Mentions,
			Pluck: seek.PluckLink,
		}),
		full(operators.IndexMetaPrivate, seek.Private),
	}
}

// Factory creates a Manager from configuration parameters.
type Factory func(params map[string]string, logger *slog.Logger) (*Manager, error)

// NewFactory returns a factory that creates Managers with the default
// index set, optionally narrowed by the comma-separated "indexes" param.
// The keys index is always kept: key lookups depend on it.
func NewFactory() Factory {
	return func(params map[string]string, logger *slog.Logger) (*Manager, error) {
		var cfg Config
		cfg.Logger = logger
		if v, ok := params[ParamAutoDrain]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", ParamAutoDrain, err)
			}
			cfg.AutoDrain = b
		}

		indexers := DefaultIndexers()
		if v, ok := params[ParamIndexes]; ok && v != "" {
			want := map[string]bool{operators.IndexKeys: true}
			for _, name := range strings.Split(v, ",") {
				want[strings.TrimSpace(name)] = true
			}
			known := make(map[string]bool, len(indexers))
			var kept []index.Indexer
			for _, idx := range indexers {
				known[idx.Name()] = true
				if want[idx.Name()] {
					kept = append(kept, idx)
				}
			}
			for name := range want {
				if !known[name] {
					return nil, fmt.Errorf("invalid %s: %w: %s", ParamIndexes, index.ErrIndexNotFound, name)
				}
			}
			indexers = kept
		}

		return NewManager(cfg, indexers...)
	}
}
