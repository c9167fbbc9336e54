package fixture

import (
	"fmt"

	"feedquery/internal/index/memory"
)

// Load appends every entry of the fixture at path to log and returns the
// number appended. format may be empty to infer it from the file name.
func Load(log *memory.Manager, path string, format Format) (int, error) {
	if format == "" {
		format = FormatOf(path)
	}
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	n := 0
	err = Decode(r, format, func(e Entry) error {
		if _, err := log.Append(e.Value, e.Meta()); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("load %s: %w", path, err)
	}
	return n, nil
}
