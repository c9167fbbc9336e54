// Package fixture reads and writes feed log fixtures: sequences of message
// values, one per entry, as JSON lines or a msgpack stream, optionally zstd
// compressed.
package fixture

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"feedquery/internal/msg"
)

var ErrUnknownFormat = errors.New("unknown fixture format")

// Format is a fixture encoding.
type Format string

const (
	JSONL   Format = "jsonl"
	Msgpack Format = "msgpack"
)

// ParseFormat validates a format name. Empty means JSONL.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", JSONL, "json":
		return JSONL, nil
	case Msgpack, "mp":
		return Msgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatOf infers the format from a file name: ".msgpack" and ".mp" are
// msgpack, anything else JSON lines. A trailing ".zst" is ignored.
func FormatOf(path string) Format {
	switch filepath.Ext(strings.TrimSuffix(path, ".zst")) {
	case ".msgpack", ".mp":
		return Msgpack
	default:
		return JSONL
	}
}

// Compressed reports whether path names a zstd compressed fixture.
func Compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Entry is one fixture message.
type Entry struct {
	Value msg.Value `json:"value" msgpack:"value"`

	// Private flags the message private in its meta block.
	Private bool `json:"private,omitempty" msgpack:"private,omitempty"`
}

// Meta returns the meta block the entry is appended with.
func (e Entry) Meta() []byte {
	if e.Private {
		return msg.PrivateMeta()
	}
	return nil
}

// Open opens a fixture file for reading, decompressing ".zst" files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !Compressed(path) {
		return f, nil
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// Decode reads entries from r and calls fn for each, in order.
func Decode(r io.Reader, format Format, fn func(Entry) error) error {
	switch format {
	case JSONL:
		return decodeJSONL(r, fn)
	case Msgpack:
		return decodeMsgpack(r, fn)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func decodeJSONL(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// decodeMsgpack reads a stream of msgpack maps. Content is decoded
// generically and re-encoded as JSON, the form records are stored in.
func decodeMsgpack(r io.Reader, fn func(Entry) error) error {
	dec := msgpack.NewDecoder(r)
	for n := 1; ; n++ {
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("entry %d: %w", n, err)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("entry %d: %w", n, err)
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("entry %d: %w", n, err)
		}
		if err := fn(e); err != nil {
			return fmt.Errorf("entry %d: %w", n, err)
		}
	}
}

// Encode writes entries to w in the given format.
func Encode(w io.Writer, format Format, entries []Entry) error {
	switch format {
	case JSONL:
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case Msgpack:
		enc := msgpack.NewEncoder(w)
		for _, e := range entries {
			var doc map[string]any
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(b, &doc); err != nil {
				return err
			}
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Create opens path for writing, compressing when it ends in ".zst".
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !Compressed(path) {
		return f, nil
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &zstdWriter{Encoder: enc, f: f}, nil
}

type zstdWriter struct {
	*zstd.Encoder
	f *os.File
}

func (z *zstdWriter) Close() error {
	if err := z.Encoder.Close(); err != nil {
		_ = z.f.Close()
		return err
	}
	return z.f.Close()
}
