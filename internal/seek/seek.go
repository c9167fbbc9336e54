// Package seek provides field extractors over raw records.
//
// A seeker locates one semantic field inside a record's raw bytes or its
// framing metadata and returns the field's raw value without decoding the
// rest of the record. Seekers never fail: a missing, null, or malformed
// field reads as absent, so a scan degrades to "does not match" instead of
// aborting.
package seek

import (
	"bytes"

	"github.com/buger/jsonparser"

	"feedquery/internal/msg"
)

// Seeker returns the raw value of one field, or false if it is absent.
type Seeker func(raw []byte, frame msg.Frame) ([]byte, bool)

// Field binds a seeker to the semantic field it reads.
type Field struct {
	Name string
	Seek Seeker

	// Width is the fixed byte length of every present value, or 0 when
	// values vary in length.
	Width int
}

// Extract runs the field's seeker against a record.
func (f Field) Extract(rec *msg.Record) ([]byte, bool) {
	if f.Seek == nil || rec == nil {
		return nil, false
	}
	return f.Seek(rec.Raw, rec.Frame)
}

// Fields of the message value.
var (
	Type     = Field{Name: "content.type", Seek: jsonField("content", "type")}
	Author   = reference("author", msg.FeedIDLen, "author")
	Channel  = Field{Name: "content.channel", Seek: jsonField("content", "channel")}
	Root     = reference("content.root", msg.KeyLen, "content", "root")
	Fork     = reference("content.fork", msg.KeyLen, "content", "fork")
	Branch   = reference("content.branch", msg.KeyLen, "content", "branch")
	VoteLink = reference("content.vote.link", msg.KeyLen, "content", "vote", "link")
	Contact  = reference("content.contact", msg.FeedIDLen, "content", "contact")
	About    = reference("content.about", msg.FeedIDLen, "content", "about")
	Mentions = Field{Name: "content.mentions", Seek: jsonArray("content", "mentions")}
)

// Fields of the framing metadata.
var (
	Private = Field{Name: "meta.private", Seek: seekPrivate, Width: 1}
	Meta    = Field{Name: "meta", Seek: seekMeta}
	Offset  = Field{Name: "offset", Seek: seekOffset, Width: 8}
)

// jsonField reads a scalar at path. Strings are returned unquoted and
// unescaped; numbers and booleans as their literal bytes.
func jsonField(path ...string) Seeker {
	return func(raw []byte, _ msg.Frame) ([]byte, bool) {
		v, typ, _, err := jsonparser.Get(raw, path...)
		if err != nil {
			return nil, false
		}
		switch typ {
		case jsonparser.String:
			s, err := jsonparser.ParseString(v)
			if err != nil {
				return nil, false
			}
			return []byte(s), true
		case jsonparser.Number, jsonparser.Boolean:
			return v, true
		default:
			return nil, false
		}
	}
}

// reference builds a fixed-width field over a key or feed id string.
func reference(name string, width int, path ...string) Field {
	return Field{Name: name, Seek: jsonString(width, path...), Width: width}
}

// jsonString reads a string of exactly width bytes at path. Any other JSON
// type, or a string of another length, is absent.
func jsonString(width int, path ...string) Seeker {
	return func(raw []byte, _ msg.Frame) ([]byte, bool) {
		v, typ, _, err := jsonparser.Get(raw, path...)
		if err != nil || typ != jsonparser.String {
			return nil, false
		}
		v, ok := unescape(v)
		if !ok || len(v) != width {
			return nil, false
		}
		return v, true
	}
}

// unescape decodes JSON string escapes. Strings without a backslash are
// returned as is.
func unescape(v []byte) ([]byte, bool) {
	if bytes.IndexByte(v, '\\') < 0 {
		return v, true
	}
	s, err := jsonparser.ParseString(v)
	if err != nil {
		return nil, false
	}
	return []byte(s), true
}

// jsonArray returns the raw bytes of an array at path.
func jsonArray(path ...string) Seeker {
	return func(raw []byte, _ msg.Frame) ([]byte, bool) {
		v, typ, _, err := jsonparser.Get(raw, path...)
		if err != nil || typ != jsonparser.Array {
			return nil, false
		}
		return v, true
	}
}

func seekPrivate(_ []byte, frame msg.Frame) ([]byte, bool) {
	if frame.Tombstoned || len(frame.Meta) < msg.MetaLen {
		return nil, false
	}
	return frame.Meta[msg.MetaPrivateOffset : msg.MetaPrivateOffset+1], true
}

func seekMeta(_ []byte, frame msg.Frame) ([]byte, bool) {
	if frame.Tombstoned || len(frame.Meta) == 0 {
		return nil, false
	}
	return frame.Meta, true
}

func seekOffset(_ []byte, frame msg.Frame) ([]byte, bool) {
	if frame.Tombstoned {
		return nil, false
	}
	return msg.OffsetKey(frame.Offset), true
}
