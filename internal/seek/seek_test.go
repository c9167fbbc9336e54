package seek

import (
	"strings"
	"testing"

	"feedquery/internal/msg"
)

const (
	feedA = "@AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=.ed25519"
	keyA  = "%AgICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgI=.sha256"
	keyB  = "%AwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwM=.sha256"

	// keySlash contains '/' and is written escaped as "\/" by some encoders.
	keySlash = "%A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A/A=.sha256"
)

func record(raw string, frame msg.Frame) *msg.Record {
	return &msg.Record{Raw: []byte(raw), Frame: frame}
}

func TestRawFields(t *testing.T) {
	raw := `{"previous":null,"author":"` + feedA + `","sequence":3,"timestamp":1,"hash":"sha256","content":{` +
		`"type":"post","channel":"go lang","root":"` + keyA + `","fork":"` + keyB + `",` +
		`"branch":["` + keyA + `"],"vote":{"link":"` + keyB + `","value":1},"contact":"` + feedA + `",` +
		`"about":"` + feedA + `","mentions":[{"link":"` + keyA + `"}]}}`
	rec := record(raw, msg.Frame{})

	tests := []struct {
		field Field
		want  string
		ok    bool
	}{
		{Type, "post", true},
		{Author, feedA, true},
		{Channel, "go lang", true},
		{Root, keyA, true},
		{Fork, keyB, true},
		{Branch, "", false}, // array form is not a single reference
		{VoteLink, keyB, true},
		{Contact, feedA, true},
		{About, feedA, true},
		{Mentions, `[{"link":"` + keyA + `"}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.field.Name, func(t *testing.T) {
			got, ok := tt.field.Extract(rec)
			if ok != tt.ok {
				t.Fatalf("present = %v, want %v", ok, tt.ok)
			}
			if ok && string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if ok && tt.field.Width > 0 && len(got) != tt.field.Width {
				t.Errorf("value length %d does not match width %d", len(got), tt.field.Width)
			}
		})
	}
}

func TestAbsentFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing", `{"author":"x","content":{"type":"post"}}`},
		{"null", `{"author":"x","content":{"type":"post","root":null}}`},
		{"wrong type", `{"author":"x","content":{"type":"post","root":42}}`},
		{"private string content", `{"author":"x","content":"c2VjcmV0.box"}`},
		{"malformed", `{"author":"x","content":{"root":`},
		{"short reference", `{"author":"x","content":{"type":"post","root":"%short"}}`},
		{"long reference", `{"author":"x","content":{"type":"post","root":"` + keyA + `x"}}`},
		{"bad escape", `{"author":"x","content":{"type":"post","root":"%\q` + keyA[3:] + `"}}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, ok := Root.Extract(record(tt.raw, msg.Frame{})); ok {
				t.Errorf("root should be absent, got %q", v)
			}
		})
	}
}

func TestEscapedReference(t *testing.T) {
	escaped := strings.ReplaceAll(keySlash, "/", `\/`)
	rec := record(`{"author":"`+feedA+`","content":{"type":"vote","root":"`+escaped+`","vote":{"link":"`+escaped+`"}}}`, msg.Frame{})
	for _, f := range []Field{Root, VoteLink} {
		v, ok := f.Extract(rec)
		if !ok || string(v) != keySlash {
			t.Errorf("%s = %q, %v; want %q", f.Name, v, ok, keySlash)
		}
	}
}

func TestScalarFields(t *testing.T) {
	rec := record(`{"content":{"type":7,"channel":true}}`, msg.Frame{})
	if v, ok := Type.Extract(rec); !ok || string(v) != "7" {
		t.Errorf("numeric type: got %q, %v", v, ok)
	}
	if v, ok := Channel.Extract(rec); !ok || string(v) != "true" {
		t.Errorf("boolean channel: got %q, %v", v, ok)
	}
	if _, ok := Type.Extract(nil); ok {
		t.Error("nil record should be absent")
	}
}

func TestFrameFields(t *testing.T) {
	tests := []struct {
		name        string
		frame       msg.Frame
		wantPrivate bool
		wantMeta    bool
	}{
		{"public", msg.Frame{Offset: 4}, false, false},
		{"private", msg.Frame{Offset: 4, Meta: msg.PrivateMeta()}, true, true},
		{"meta without private flag", msg.Frame{Offset: 4, Meta: []byte{0}}, true, true},
		{"tombstoned", msg.Frame{Offset: 4, Meta: msg.PrivateMeta(), Tombstoned: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record(`{}`, tt.frame)
			if _, ok := Private.Extract(rec); ok != tt.wantPrivate {
				t.Errorf("private present = %v, want %v", ok, tt.wantPrivate)
			}
			if _, ok := Meta.Extract(rec); ok != tt.wantMeta {
				t.Errorf("meta present = %v, want %v", ok, tt.wantMeta)
			}
		})
	}

	rec := record(`{}`, msg.Frame{Meta: msg.PrivateMeta()})
	if v, _ := Private.Extract(rec); len(v) != 1 || v[0] != msg.PrivateFlag {
		t.Errorf("private flag = %v", v)
	}
}

func TestOffsetField(t *testing.T) {
	v, ok := Offset.Extract(record(`{}`, msg.Frame{Offset: 42}))
	if !ok {
		t.Fatal("offset should be present")
	}
	if off, _ := msg.ParseOffsetKey(v); off != 42 {
		t.Errorf("offset = %d, want 42", off)
	}
	if _, ok := Offset.Extract(record(`{}`, msg.Frame{Offset: 42, Tombstoned: true})); ok {
		t.Error("tombstoned offset should be absent")
	}
}

func TestSeekersDoNotMutate(t *testing.T) {
	raw := `{"content":{"type":"post","root":"` + keyA + `"}}`
	rec := record(raw, msg.Frame{})
	for range 3 {
		Type.Extract(rec)
		Root.Extract(rec)
	}
	if string(rec.Raw) != raw {
		t.Errorf("raw changed: %s", rec.Raw)
	}
}
