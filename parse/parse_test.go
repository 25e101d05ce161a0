package parse

import (
	"testing"
)

func mustPairs(t *testing.T, text string) []FilePair {
	t.Helper()
	pairs, _ := New(nil).Parse(text)
	return pairs
}

func TestFilesBlockWithMarkerPath(t *testing.T) {
	text := "Intro prose.\n\n<files>\npath: `cmd/main.go`\n```go\npackage main\n```\n</files>\n"
	pairs := mustPairs(t, text)
	if len(pairs) != 1 {
		t.Fatalf("pairs = %v, want 1", pairs)
	}
	if pairs[0].Path != "cmd/main.go" || pairs[0].Content != "package main" {
		t.Fatalf("pair = %+v", pairs[0])
	}
}

func TestMultipleFilesBlocks(t *testing.T) {
	text := "<files>\n`a/one.go`\n```go\nA\n```\n</files>\n" +
		"chatter between blocks\n" +
		"<files>\n`b/two.go`\n```go\nB\n```\n</files>\n"
	pairs, debug := New(nil).Parse(text)
	if len(pairs) != 2 {
		t.Fatalf("pairs = %v, want 2", pairs)
	}
	if pairs[0].Path != "a/one.go" || pairs[1].Path != "b/two.go" {
		t.Fatalf("paths = %s, %s", pairs[0].Path, pairs[1].Path)
	}
	if debug.ParsingMode != "token-based (2 files blocks)" {
		t.Fatalf("mode = %q", debug.ParsingMode)
	}
}

// The join boundary between blocks is a paragraph break: a path at the
// end of block one must not bind to code at the start of block two.
func TestNoBindingAcrossBlockBorders(t *testing.T) {
	text := "<files>\n`orphan/path.go`\n</files>\n" +
		"<files>\n```go\nno path here\n```\n</files>\n"
	pairs, debug := New(nil).Parse(text)
	if len(pairs) != 0 {
		t.Fatalf("pairs = %v, want none", pairs)
	}
	if debug.UnmatchedCodeBlocks != 1 {
		t.Fatalf("unmatched = %d, want 1", debug.UnmatchedCodeBlocks)
	}
}

func TestFallbackFullText(t *testing.T) {
	text := "No tags here.\n\nHere is `pkg/util.py`:\n```python\nx = 1\n```\n"
	pairs, debug := New(nil).Parse(text)
	if len(pairs) != 1 || pairs[0].Path != "pkg/util.py" {
		t.Fatalf("pairs = %v", pairs)
	}
	if debug.ParsingMode != "fallback (full text)" {
		t.Fatalf("mode = %q", debug.ParsingMode)
	}
}

func TestListItemPath(t *testing.T) {
	text := "<files>\n- `src/app.ts`\n```ts\nexport {}\n```\n</files>"
	pairs := mustPairs(t, text)
	if len(pairs) != 1 || pairs[0].Path != "src/app.ts" {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestImplicitBarePath(t *testing.T) {
	text := "<files>\nsrc/module/handler.go\n```go\nH\n```\n</files>"
	pairs := mustPairs(t, text)
	if len(pairs) != 1 || pairs[0].Path != "src/module/handler.go" {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestLastBacktickSpanWins(t *testing.T) {
	text := "<files>\nReplace `old/name.go` with `new/name.go`:\n```go\nN\n```\n</files>"
	pairs := mustPairs(t, text)
	if len(pairs) != 1 || pairs[0].Path != "new/name.go" {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestBottomUpNearestParagraphOnly(t *testing.T) {
	// The fence's preceding paragraph has no path; an earlier paragraph
	// does. The earlier one must not leak in.
	text := "<files>\n`real/path.go`\n\nJust prose here\nand more prose\n```go\nX\n```\n</files>"
	pairs, debug := New(nil).Parse(text)
	if len(pairs) != 0 {
		t.Fatalf("pairs = %v, want none", pairs)
	}
	if debug.UnmatchedCodeBlocks != 1 {
		t.Fatalf("unmatched = %d", debug.UnmatchedCodeBlocks)
	}
}

func TestLikelyPath(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"cmd/main.go", true},
		{"Makefile", false}, // no dot, no separator
		{"README.md", true},
		{"a", false},
		{"├── src/main.go", false}, // tree rendering artifact
		{"just a sentence ending with a period.", true},
		{"src\\win\\path.cs", true},
	}
	for _, c := range cases {
		if got := likelyPath(c.in); got != c.want {
			t.Errorf("likelyPath(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTreeArtifactNotAPath(t *testing.T) {
	text := "<files>\n├── src/main.go\n```go\nT\n```\n</files>"
	pairs := mustPairs(t, text)
	if len(pairs) != 0 {
		t.Fatalf("tree artifact bound as path: %v", pairs)
	}
}
