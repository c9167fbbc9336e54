package seek

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/theory/jsonpath"

	"feedquery/internal/msg"
)

// Path builds a field from a JSONPath expression evaluated against the
// decoded value. It is the fallback for fields with no raw seeker: the
// whole value is decoded on every call. The first selected node is the
// field's value; null and empty selections are absent.
func Path(name, expr string) (Field, error) {
	p, err := jsonpath.Parse(expr)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", name, err)
	}
	return Field{Name: name, Seek: pathSeeker(p)}, nil
}

// MustPath is like Path but panics on a malformed expression.
func MustPath(name, expr string) Field {
	f, err := Path(name, expr)
	if err != nil {
		panic(err)
	}
	return f
}

func pathSeeker(p *jsonpath.Path) Seeker {
	return func(raw []byte, _ msg.Frame) ([]byte, bool) {
		if len(raw) == 0 {
			return nil, false
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, false
		}
		nodes := p.Select(doc)
		if len(nodes) == 0 {
			return nil, false
		}
		return scalarBytes(nodes[0])
	}
}

func scalarBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(x), true
	case json.Number:
		return []byte(x.String()), true
	case bool:
		if x {
			return []byte("true"), true
		}
		return []byte("false"), true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, false
		}
		return b, true
	}
}
