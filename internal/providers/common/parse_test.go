package common

import (
	"reflect"
	"testing"
)

func TestCleanHTMLText(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"  plain text  ", "plain text"},
		{"<p>Piano &amp; theory</p>", "Piano & theory"},
		{"line<br/>break\n\n  spaced", "line break spaced"},
	}
	for _, tc := range cases {
		if got := CleanHTMLText(tc.input); got != tc.want {
			t.Errorf("CleanHTMLText(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := Truncate("abcdefgh", 3); got != "abc..." {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := Truncate("привет", 2); got != "пр..." {
		t.Fatalf("truncate must count runes, got %q", got)
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs([]string{" b ", "a", "", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UniqueIDs = %v, want %v", got, want)
	}
	if UniqueIDs(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestChunkIDs(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}
	chunks := ChunkIDs(ids, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !reflect.DeepEqual(chunks[2], []string{"5"}) {
		t.Fatalf("unexpected last chunk: %v", chunks[2])
	}
	if got := ChunkIDs(ids, 0); len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("size 0 should yield a single chunk, got %v", got)
	}
}
