// Package promptgen renders the project-context prompt: a file tree, the
// selected files' contents in language-tagged fences, and an optional
// documentation block, joined by horizontal separators.
package promptgen

import (
	"sort"
	"strings"
)

// File is one workspace entry. Content nil means "listed in the tree but
// not included in the contents section".
type File struct {
	Path    string
	Content *string
}

// Doc is one documentation excerpt appended as extra context.
type Doc struct {
	Title   string
	Content string
}

const sectionSep = "\n\n\n---\n\n\n"

// Build renders the full prompt. rootName is the real workspace folder
// name shown at the tree root.
func Build(files []File, rootName string, docs []Doc) string {
	if rootName == "" {
		rootName = "project"
	}

	var parts []string
	if len(files) > 0 {
		parts = append(parts,
			"Project structure ("+rootName+"):\n\n"+Tree(files, rootName))
	}
	if contents := fileContents(files); contents != "" {
		parts = append(parts, "Project files:\n\n"+contents)
	}
	if docBlock := formatDocs(docs); docBlock != "" {
		parts = append(parts, docBlock)
	}
	return strings.Join(parts, sectionSep)
}

// Tree renders the classic box-drawing tree from the flat path list.
// Every file appears, content or not.
func Tree(files []File, rootName string) string {
	type node map[string]node
	root := node{}
	for _, f := range files {
		cur := root
		for _, part := range strings.Split(f.Path, "/") {
			if cur[part] == nil {
				cur[part] = node{}
			}
			cur = cur[part]
		}
	}

	var render func(n node, prefix string) []string
	render = func(n node, prefix string) []string {
		names := make([]string, 0, len(n))
		for name := range n {
			names = append(names, name)
		}
		sort.Strings(names)

		var lines []string
		for i, name := range names {
			connector, extension := "├── ", "│   "
			if i == len(names)-1 {
				connector, extension = "└── ", "    "
			}
			lines = append(lines, prefix+connector+name)
			if len(n[name]) > 0 {
				lines = append(lines, render(n[name], prefix+extension)...)
			}
		}
		return lines
	}

	return rootName + "/\n" + strings.Join(render(root, ""), "\n")
}

// fileContents renders the per-file fenced sections, sorted by path,
// fence tagged with the file extension.
func fileContents(files []File) string {
	withContent := make([]File, 0, len(files))
	for _, f := range files {
		if f.Content != nil {
			withContent = append(withContent, f)
		}
	}
	sort.Slice(withContent, func(i, j int) bool {
		return withContent[i].Path < withContent[j].Path
	})

	parts := make([]string, 0, len(withContent))
	for _, f := range withContent {
		parts = append(parts, f.Path+"\n```"+fenceTag(f.Path)+"\n"+*f.Content+"\n```")
	}
	return strings.Join(parts, "\n\n\n")
}

func fenceTag(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && i < len(path)-1 {
		return path[i+1:]
	}
	return "txt"
}

func formatDocs(docs []Doc) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "Unknown Library"
		}
		content := d.Content
		if content == "" {
			content = "No content available."
		}
		parts = append(parts, "Documentation for: "+title+"\n```\n"+content+"\n```")
	}
	return "ADDITIONAL CONTEXT FROM DOCUMENTATION:\n\n" + strings.Join(parts, "\n\n")
}
