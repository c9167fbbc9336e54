// Package msg defines the record model of the feed log.
// Every author owns an append-only sequence of immutable records. A record
// is identified by a key derived from its serialized value, and carries the
// raw bytes the field seekers read plus framing metadata assigned by the log.
package msg

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidKey    = errors.New("invalid message key")
	ErrInvalidFeedID = errors.New("invalid feed id")
	ErrNoContent     = errors.New("message has no content")
)

// Sigils and suffixes for references.
const (
	KeySigil    = "%"
	FeedSigil   = "@"
	KeySuffix   = ".sha256"
	FeedSuffix  = ".ed25519"
	encodedHash = 44 // base64 length of a 32-byte digest or public key

	// KeyLen is the byte length of a message key ("%" + base64 + ".sha256").
	KeyLen = len(KeySigil) + encodedHash + len(KeySuffix)
	// FeedIDLen is the byte length of a feed id ("@" + base64 + ".ed25519").
	FeedIDLen = len(FeedSigil) + encodedHash + len(FeedSuffix)
)

// Value is the decoded form of a record.
type Value struct {
	Previous  *string         `json:"previous" msgpack:"previous"`
	Author    string          `json:"author" msgpack:"author"`
	Sequence  uint64          `json:"sequence" msgpack:"sequence"`
	Timestamp int64           `json:"timestamp" msgpack:"timestamp"`
	Hash      string          `json:"hash" msgpack:"hash"`
	Content   json.RawMessage `json:"content" msgpack:"content"`
}

// Time returns the claimed timestamp as a time.Time.
func (v Value) Time() time.Time {
	return time.UnixMilli(v.Timestamp)
}

// Record is one entry of an author's log.
type Record struct {
	Key   string
	Value Value
	Raw   []byte
	Frame Frame
}

// Encode serializes v into the raw form stored in the log and the key
// derived from it.
func Encode(v Value) (raw []byte, key string, err error) {
	if len(v.Content) == 0 {
		return nil, "", ErrNoContent
	}
	if v.Hash == "" {
		v.Hash = "sha256"
	}
	raw, err = json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("encode value: %w", err)
	}
	return raw, KeyOf(raw), nil
}

// New builds a record from a decoded value. The frame is left zero; the log
// assigns it on append.
func New(v Value) (Record, error) {
	raw, key, err := Encode(v)
	if err != nil {
		return Record{}, err
	}
	if v.Hash == "" {
		v.Hash = "sha256"
	}
	return Record{Key: key, Value: v, Raw: raw}, nil
}

// KeyOf derives the message key for a raw value.
func KeyOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return KeySigil + base64.StdEncoding.EncodeToString(sum[:]) + KeySuffix
}

// FeedID formats a 32-byte public key as a feed id.
func FeedID(pub []byte) (string, error) {
	if len(pub) != 32 {
		return "", fmt.Errorf("%w: public key is %d bytes", ErrInvalidFeedID, len(pub))
	}
	return FeedSigil + base64.StdEncoding.EncodeToString(pub) + FeedSuffix, nil
}

// ParseKey checks that s is a well-formed message key.
func ParseKey(s string) (string, error) {
	if !wellFormed(s, KeySigil, KeySuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return s, nil
}

// ParseFeedID checks that s is a well-formed feed id.
func ParseFeedID(s string) (string, error) {
	if !wellFormed(s, FeedSigil, FeedSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFeedID, s)
	}
	return s, nil
}

func wellFormed(s, sigil, suffix string) bool {
	if !strings.HasPrefix(s, sigil) || !strings.HasSuffix(s, suffix) {
		return false
	}
	body := s[len(sigil) : len(s)-len(suffix)]
	if len(body) != encodedHash {
		return false
	}
	b, err := base64.StdEncoding.DecodeString(body)
	return err == nil && len(b) == 32
}
