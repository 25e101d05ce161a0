// Package parse extracts path→content pairs from an LLM response. The
// response carries zero or more <files> blocks; inside them, fenced code
// blocks are preceded by a paragraph naming the target path. When no
// block is present the whole text is parsed as a fallback.
package parse

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// FilePair is one extracted file.
type FilePair struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DebugInfo describes how a parse went, for the preview UI.
type DebugInfo struct {
	ParsingMode         string     `json:"parsing_mode"`
	UnmatchedCodeBlocks int        `json:"unmatched_code_blocks"`
	FinalPairs          []FilePair `json:"final_pairs"`
}

var (
	fileBlockRE = regexp.MustCompile(`(?s)<files>(.*?)</files>`)
	codeBlockRE = regexp.MustCompile("(?ms)^```(\\w*)\n(.*?)\n^```\\s*$")

	pathMarkerRE = regexp.MustCompile("path:\\s*`?([^`\n]+?)`?$")
	backtickRE   = regexp.MustCompile("`([^`\n]+?)`")
	listItemRE   = regexp.MustCompile("^\\s*[-*]\\s+`?([^`\n]+?)`?\\s*$")
)

// Parser binds the parse routine to a logger. Stateless otherwise.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse extracts all path→content pairs from text.
//
// All <files> blocks are found and their contents joined with a blank
// line, so the paragraph-boundary logic isolates each block's context
// and a path can never bind to code across a block border.
func (p *Parser) Parse(text string) ([]FilePair, DebugInfo) {
	debug := DebugInfo{ParsingMode: "fallback (full text)"}

	var toParse string
	blocks := fileBlockRE.FindAllStringSubmatch(text, -1)
	if len(blocks) > 0 {
		parts := make([]string, len(blocks))
		for i, b := range blocks {
			parts[i] = b[1]
		}
		toParse = strings.Join(parts, "\n\n")
		debug.ParsingMode = fmt.Sprintf("token-based (%d files blocks)", len(blocks))
		p.logger.Info("parse: files blocks found", "count", len(blocks))
	} else {
		toParse = text
		p.logger.Info("parse: no files block, parsing full text")
	}

	var pairs []FilePair
	lastEnd := 0
	for _, loc := range codeBlockRE.FindAllStringSubmatchIndex(toParse, -1) {
		lookBehind := toParse[lastEnd:loc[0]]
		lastEnd = loc[1]

		// Only the last paragraph before the fence may name the path.
		searchText := lookBehind
		if i := strings.LastIndex(lookBehind, "\n\n"); i != -1 {
			searchText = lookBehind[i:]
		}

		path := findPath(strings.Split(searchText, "\n"))
		code := strings.TrimSpace(toParse[loc[4]:loc[5]])

		if path != "" {
			pairs = append(pairs, FilePair{Path: path, Content: code})
			p.logger.Info("parse: bound path to code block", "path", path)
		} else {
			debug.UnmatchedCodeBlocks++
			p.logger.Warn("parse: code block without a path in the preceding paragraph")
		}
	}

	debug.FinalPairs = pairs
	if len(pairs) == 0 {
		p.logger.Warn("parse: no path/code pairs found")
	}
	return pairs, debug
}

// findPath scans the lines bottom-up: the match nearest the code block
// wins. Heuristics in priority order per line: explicit path marker,
// list item, last backticked span, bare line that looks like a path.
func findPath(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if m := pathMarkerRE.FindStringSubmatch(line); m != nil {
			if p := strings.TrimSpace(m[1]); likelyPath(p) {
				return p
			}
		}
		if m := listItemRE.FindStringSubmatch(line); m != nil {
			if p := strings.TrimSpace(m[1]); likelyPath(p) {
				return p
			}
		}
		if ms := backtickRE.FindAllStringSubmatch(line, -1); len(ms) > 0 {
			if p := strings.TrimSpace(ms[len(ms)-1][1]); likelyPath(p) {
				return p
			}
		}
		if implicitPath(line) && likelyPath(line) {
			return line
		}
	}
	return ""
}

// implicitPath accepts a bare line as a path candidate: no fences, no
// marker prefix, no backticks, and at least one dot or separator.
func implicitPath(line string) bool {
	if strings.HasPrefix(line, "```") ||
		strings.HasPrefix(line, "path:") ||
		strings.HasPrefix(line, "`") {
		return false
	}
	if strings.Contains(line, "`") {
		return false
	}
	return strings.ContainsAny(line, `/\.`)
}

// likelyPath filters out prose and tree-rendering artifacts: sane
// length, no box-drawing characters, and either a dotted file name or a
// directory separator.
func likelyPath(s string) bool {
	clean := strings.TrimSpace(s)
	if len(clean) <= 1 || len(clean) >= 256 {
		return false
	}
	if strings.ContainsAny(clean, "│├─└") {
		return false
	}
	base := clean
	if i := strings.LastIndexAny(clean, `/\`); i >= 0 {
		base = clean[i+1:]
	}
	return strings.Contains(base, ".") || strings.ContainsAny(clean, `/\`)
}
