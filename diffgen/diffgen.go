// Package diffgen builds the structured line diff the preview UI renders:
// changes grouped into hunks with a fixed number of context lines, each
// line carrying its old/new line number and a kind.
package diffgen

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType classifies one diff line.
type LineType string

const (
	LineAdded   LineType = "added"
	LineDeleted LineType = "deleted"
	LineContext LineType = "context"
)

// Line is one row of a hunk. Line numbers are 1-based; 0 means the line
// does not exist on that side.
type Line struct {
	Type       LineType `json:"type"`
	LineNumOld int      `json:"line_num_old,omitempty"`
	LineNumNew int      `json:"line_num_new,omitempty"`
	Content    string   `json:"content"`
}

// Hunk is a contiguous block of changes plus its surrounding context.
type Hunk struct {
	OldStartLine int    `json:"old_start_line"`
	NewStartLine int    `json:"new_start_line"`
	Lines        []Line `json:"lines"`
}

// FileStatus classifies a whole file's change.
type FileStatus string

const (
	StatusModified FileStatus = "modified"
	StatusAdded    FileStatus = "added"
	StatusError    FileStatus = "error"
)

// FileChange is the full change set for one file.
type FileChange struct {
	Path         string     `json:"path"`
	Status       FileStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Hunks        []Hunk     `json:"hunks"`
}

// DefaultContextLines is the context shown around each change block.
const DefaultContextLines = 3

// Detector generates structured diffs. Safe for concurrent use.
type Detector struct {
	context int
	dmp     *diffmatchpatch.DiffMatchPatch
}

// New creates a Detector with n context lines; n < 0 uses the default.
func New(n int) *Detector {
	if n < 0 {
		n = DefaultContextLines
	}
	return &Detector{context: n, dmp: diffmatchpatch.New()}
}

// Diff returns the hunks between two contents. Identical contents yield
// no hunks.
func (d *Detector) Diff(oldContent, newContent string) []Hunk {
	if oldContent == newContent {
		return nil
	}

	full := d.lineDiff(oldContent, newContent)

	// Indices of non-context lines.
	var changed []int
	for i, l := range full {
		if l.Type != LineContext {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	// Changes separated by more than 2*context equal lines get their own
	// hunk; anything closer merges.
	var hunks []Hunk
	groupStart := changed[0]
	prev := changed[0]
	flush := func(first, last int) {
		start := max(0, first-d.context)
		end := min(len(full), last+d.context+1)
		lines := append([]Line(nil), full[start:end]...)
		hunks = append(hunks, Hunk{
			OldStartLine: startNum(full, start, true),
			NewStartLine: startNum(full, start, false),
			Lines:        lines,
		})
	}
	for _, idx := range changed[1:] {
		if idx-prev-1 > 2*d.context {
			flush(groupStart, prev)
			groupStart = idx
		}
		prev = idx
	}
	flush(groupStart, prev)
	return hunks
}

// DiffFile wraps Diff with the file-level status the preview endpoint
// reports: a file absent on the old side is pure-added.
func (d *Detector) DiffFile(path, oldContent, newContent string, oldMissing bool) FileChange {
	status := StatusModified
	if oldMissing {
		status = StatusAdded
		oldContent = ""
	}
	return FileChange{
		Path:   path,
		Status: status,
		Hunks:  d.Diff(oldContent, newContent),
	}
}

// lineDiff produces the complete per-line diff sequence with both line
// counters threaded through.
func (d *Detector) lineDiff(oldContent, newContent string) []Line {
	a, b, lineText := d.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := d.dmp.DiffCharsToLines(d.dmp.DiffMain(a, b, false), lineText)

	var full []Line
	oldNum, newNum := 0, 0
	for _, df := range diffs {
		for _, content := range splitLines(df.Text) {
			switch df.Type {
			case diffmatchpatch.DiffEqual:
				oldNum++
				newNum++
				full = append(full, Line{
					Type: LineContext, LineNumOld: oldNum, LineNumNew: newNum, Content: content,
				})
			case diffmatchpatch.DiffDelete:
				oldNum++
				full = append(full, Line{
					Type: LineDeleted, LineNumOld: oldNum, Content: content,
				})
			case diffmatchpatch.DiffInsert:
				newNum++
				full = append(full, Line{
					Type: LineAdded, LineNumNew: newNum, Content: content,
				})
			}
		}
	}
	return full
}

// startNum recovers the hunk's 1-based start position on one side: the
// first line carrying a number on that side, or the running position
// just past the previous numbered line.
func startNum(full []Line, start int, old bool) int {
	for _, l := range full[start:] {
		if old && l.LineNumOld > 0 {
			return l.LineNumOld
		}
		if !old && l.LineNumNew > 0 {
			return l.LineNumNew
		}
	}
	for i := start - 1; i >= 0; i-- {
		if old && full[i].LineNumOld > 0 {
			return full[i].LineNumOld + 1
		}
		if !old && full[i].LineNumNew > 0 {
			return full[i].LineNumNew + 1
		}
	}
	return 1
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
