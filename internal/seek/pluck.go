package seek

import "github.com/buger/jsonparser"

// Pluck splits a multi-valued field into its candidate values. It returns an
// empty, non-nil slice when there is nothing to pluck.
type Pluck func(value []byte) [][]byte

// PluckLink returns the "link" string of every object in a JSON array.
func PluckLink(value []byte) [][]byte {
	out := [][]byte{}
	if len(value) == 0 {
		return out
	}
	_, _ = jsonparser.ArrayEach(value, func(elem []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil || typ != jsonparser.Object {
			return
		}
		link, ltyp, _, err := jsonparser.Get(elem, "link")
		if err != nil || ltyp != jsonparser.String {
			return
		}
		if link, ok := unescape(link); ok {
			out = append(out, link)
		}
	})
	return out
}

// PluckStrings returns every string element of a JSON array.
func PluckStrings(value []byte) [][]byte {
	out := [][]byte{}
	if len(value) == 0 {
		return out
	}
	_, _ = jsonparser.ArrayEach(value, func(elem []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil || typ != jsonparser.String {
			return
		}
		s, err := jsonparser.ParseString(elem)
		if err != nil {
			return
		}
		out = append(out, []byte(s))
	})
	return out
}
