// Package msgtext turns a chat message's HTML into the markdown text the
// sync pipeline parses. The markup comes from an uncontrolled page, so it
// is sanitised first, then converted, then whitespace-normalised.
package msgtext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Converter is safe for concurrent use after construction.
type Converter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// New creates a Converter with the standard pipeline.
func New() *Converter {
	return &Converter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Text converts message markup to normalised markdown. Escaped marker
// entities ("&lt;files&gt;") come out as literal text, which is exactly
// what the response parser expects.
func (c *Converter) Text(html string) (string, error) {
	clean := c.policy.Sanitize(html)
	md, err := c.md.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("msgtext: convert: %w", err)
	}
	return Normalize(md), nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize trims trailing spaces per line, collapses runs of blank
// lines to one, and strips outer whitespace.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := strings.Join(lines, "\n")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
