package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"feedquery/internal/fixture"
	"feedquery/internal/logging"
	"feedquery/internal/msg"
)

var (
	alice = mustFeed(1)
	bob   = mustFeed(2)
)

func mustFeed(n byte) string {
	id, err := msg.FeedID(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		panic(err)
	}
	return id
}

// writeFixture writes a small log and returns its path and the keys of its
// messages in order.
func writeFixture(t *testing.T, name string) (string, []string) {
	t.Helper()
	post := msg.Value{Author: alice, Sequence: 1, Timestamp: 1, Content: json.RawMessage(`{"type":"post","text":"hello","channel":"go"}`)}
	postKey := mustKey(t, post)
	entries := []fixture.Entry{
		{Value: post},
		{Value: msg.Value{Author: bob, Sequence: 1, Timestamp: 2, Content: json.RawMessage(fmt.Sprintf(`{"type":"post","text":"hi","root":%q}`, postKey))}},
		{Value: msg.Value{Author: bob, Sequence: 2, Timestamp: 3, Content: json.RawMessage(fmt.Sprintf(`{"type":"vote","vote":{"link":%q,"value":1}}`, postKey))}},
		{Value: msg.Value{Author: alice, Sequence: 2, Timestamp: 4, Content: json.RawMessage(`"c2VjcmV0.box"`)}, Private: true},
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = mustKey(t, e.Value)
	}

	path := filepath.Join(t.TempDir(), name)
	w, err := fixture.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := fixture.Encode(w, fixture.FormatOf(path), entries); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path, keys
}

func mustKey(t *testing.T, v msg.Value) string {
	t.Helper()
	rec, err := msg.New(v)
	if err != nil {
		t.Fatal(err)
	}
	return rec.Key
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func resultKeys(t *testing.T, out string) []string {
	t.Helper()
	var keys []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r result
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad output line %q: %v", sc.Text(), err)
		}
		keys = append(keys, r.Key)
	}
	return keys
}

func TestQueryCommand(t *testing.T) {
	path, keys := writeFixture(t, "log.jsonl")

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"all", nil, keys},
		{"type", []string{"--type", "post"}, keys[:2]},
		{"author", []string{"--author", bob}, keys[1:3]},
		{"dedicated author", []string{"--author", alice, "--dedicated"}, []string{keys[0], keys[3]}},
		{"channel", []string{"--channel", "go"}, keys[:1]},
		{"votes for", []string{"--votes-for", keys[0]}, keys[2:3]},
		{"root", []string{"--root", keys[0]}, keys[1:2]},
		{"is root posts", []string{"--type", "post", "--is-root"}, keys[:1]},
		{"private", []string{"--private"}, keys[3:]},
		{"public", []string{"--public", "--author", alice}, keys[:1]},
		{"keys", []string{"--key", keys[2], "--key", keys[0]}, []string{keys[0], keys[2]}},
		{"where", []string{"--where", "$.content.text=hi"}, keys[1:2]},
		{"limit", []string{"--limit", "1", "--reverse"}, keys[3:]},
		{"after", []string{"--after", "1"}, keys[2:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "--log", path}, tt.args...)
			out, err := execute(t, args...)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			got := resultKeys(t, out)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryFormats(t *testing.T) {
	for _, name := range []string{"log.jsonl.zst", "log.msgpack", "log.msgpack.zst"} {
		t.Run(name, func(t *testing.T) {
			path, _ := writeFixture(t, name)
			out, err := execute(t, "query", "--log", path, "--type", "vote")
			if err != nil {
				t.Fatal(err)
			}
			if got := resultKeys(t, out); len(got) != 1 {
				t.Errorf("got %d results, want 1", len(got))
			}
		})
	}
}

func TestQueryFlagErrors(t *testing.T) {
	path, keys := writeFixture(t, "log.jsonl")

	tests := []struct {
		name string
		args []string
	}{
		{"missing log", []string{"query"}},
		{"bad author", []string{"query", "--log", path, "--author", "alice"}},
		{"bad key", []string{"query", "--log", path, "--key", "%nope"}},
		{"private and public", []string{"query", "--log", path, "--private", "--public"}},
		{"root and is-root", []string{"query", "--log", path, "--root", keys[0], "--is-root"}},
		{"bad where", []string{"query", "--log", path, "--where", "novalue"}},
		{"bad after", []string{"query", "--log", path, "--after", "x"}},
		{"bad level", []string{"query", "--log", path, "--log-level", "loud"}},
		{"bad format", []string{"query", "--log", path, "--format", "xml"}},
		{"unknown index", []string{"query", "--log", path, "--indexes", "bogus"}},
		{"missing key", []string{"query", "--log", path, "--key", unknownKey()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// unknownKey returns a well-formed key no fixture message has.
func unknownKey() string {
	return "%" + strings.Repeat("A", 43) + "=.sha256"
}

func TestExplainCommand(t *testing.T) {
	path, keys := writeFixture(t, "log.jsonl")

	out, err := execute(t, "explain", "--log", path, "--votes-for", keys[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"scan:", "index-driven", "value_content_vote_link"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "explain", "--log", path, "--public", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var plan struct {
		ScanMode  string
		Estimated int
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("bad JSON plan: %v\n%s", err, out)
	}
	if plan.ScanMode != "sequential" || plan.Estimated != 4 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestConvertCommand(t *testing.T) {
	path, _ := writeFixture(t, "log.jsonl")
	out := filepath.Join(t.TempDir(), "log.msgpack.zst")

	if _, err := execute(t, "convert", "--log", path, out); err != nil {
		t.Fatalf("convert: %v", err)
	}
	stdout, err := execute(t, "query", "--log", out, "--type", "post")
	if err != nil {
		t.Fatal(err)
	}
	if got := resultKeys(t, stdout); len(got) != 2 {
		t.Errorf("got %d posts after conversion, want 2", len(got))
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version = %q", out)
	}
}

func TestSetComponentLevels(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    map[string]slog.Level
		wantErr bool
	}{
		{"none", nil, map[string]slog.Level{"resolver": slog.LevelWarn}, false},
		{"override", []string{"resolver=debug"}, map[string]slog.Level{"resolver": slog.LevelDebug, "query-engine": slog.LevelWarn}, false},
		{"last wins", []string{"resolver=debug", "resolver=error"}, map[string]slog.Level{"resolver": slog.LevelError}, false},
		{"default clears", []string{"resolver=debug", "resolver=default"}, map[string]slog.Level{"resolver": slog.LevelWarn}, false},
		{"missing level", []string{"resolver"}, nil, true},
		{"missing component", []string{"=debug"}, nil, true},
		{"bad level", []string{"resolver=loud"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := logging.NewComponentFilterHandler(nil, slog.LevelWarn)
			err := setComponentLevels(filter, tt.specs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			for component, want := range tt.want {
				if got := filter.Level(component); got != want {
					t.Errorf("%s level = %v, want %v", component, got, want)
				}
			}
		})
	}
}

func TestLogComponentFlag(t *testing.T) {
	path, _ := writeFixture(t, "log.jsonl")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs([]string{"query", "--log", path, "--type", "post",
		"--log-level", "error", "--log-component", "log-manager=debug"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	logs := stderr.String()
	if !strings.Contains(logs, "index caught up") {
		t.Errorf("log-manager debug lines missing:\n%s", logs)
	}
	if strings.Contains(logs, "fixture loaded") {
		t.Errorf("info line passed an error default level:\n%s", logs)
	}
}
