// Package agent is the workspace-side companion of the sync server: it
// serves the project file tree and file contents, and applies file
// updates pushed from chat sessions.
package agent

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/boyter/gocodewalker"
	"golang.org/x/net/html/charset"

	"github.com/litsync/litsync/parse"
)

// MaxFileSize is the largest file served as text.
const MaxFileSize = 1 << 20 // 1 MiB

// binaryExtensions are never served as text, whatever their content
// sniffs as.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".bmp": true, ".pdf": true, ".zip": true, ".gz": true,
	".tar": true, ".7z": true, ".rar": true, ".exe": true, ".dll": true,
	".so": true, ".dylib": true, ".bin": true, ".wasm": true, ".class": true,
	".pyc": true, ".o": true, ".a": true, ".db": true, ".sqlite": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
}

// excludedDirs are skipped during tree walks on top of .gitignore.
var excludedDirs = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv",
	"dist", "build", "target", ".idea", ".vscode",
}

// FileEntry is one served file: content, or the reason it could not be
// served.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Workspace is the local project directory the agent serves.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// NewWorkspace opens a project directory.
func NewWorkspace(root string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("agent: open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("agent: workspace %s is not a directory", abs)
	}
	return &Workspace{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// RootDirName returns the workspace folder name shown in prompts.
func (w *Workspace) RootDirName() string { return filepath.Base(w.root) }

// FileTree walks the workspace and returns slash-separated relative
// paths, honoring .gitignore and the built-in directory exclusions.
func (w *Workspace) FileTree() ([]string, error) {
	fileQueue := make(chan *gocodewalker.File, 256)
	walker := gocodewalker.NewFileWalker(w.root, fileQueue)
	walker.ExcludeDirectory = append(walker.ExcludeDirectory, excludedDirs...)

	errChan := make(chan error, 1)
	go func() {
		errChan <- walker.Start()
	}()

	var paths []string
	for f := range fileQueue {
		rel, err := filepath.Rel(w.root, f.Location)
		if err != nil {
			continue
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	if err := <-errChan; err != nil {
		return nil, fmt.Errorf("agent: walk workspace: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// FileContent reads each requested path. Per-path failures (escapes,
// binary files, size) come back as entry errors, not a whole-call
// error, so one bad path does not sink the batch.
func (w *Workspace) FileContent(paths []string) []FileEntry {
	entries := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		entry := FileEntry{Path: p}
		content, err := w.readText(p)
		if err != nil {
			entry.Error = err.Error()
			w.logger.Warn("file not served", "path", p, "error", err)
		} else {
			entry.Content = content
		}
		entries = append(entries, entry)
	}
	return entries
}

// WriteFiles applies file updates, creating parent directories as
// needed. Returns how many files were written.
func (w *Workspace) WriteFiles(pairs []parse.FilePair) (int, error) {
	written := 0
	for _, p := range pairs {
		abs, err := w.resolve(p.Path)
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return written, fmt.Errorf("agent: create parent dirs for %s: %w", p.Path, err)
		}
		if err := os.WriteFile(abs, []byte(p.Content), 0o644); err != nil {
			return written, fmt.Errorf("agent: write %s: %w", p.Path, err)
		}
		written++
		w.logger.Info("file written", "path", p.Path, "bytes", len(p.Content))
	}
	return written, nil
}

// resolve maps a workspace-relative path to an absolute one, refusing
// anything that escapes the root.
func (w *Workspace) resolve(rel string) (string, error) {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("agent: path %q escapes the workspace", rel)
	}
	return abs, nil
}

func (w *Workspace) readText(rel string) (string, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return "", err
	}

	if ext := strings.ToLower(filepath.Ext(abs)); binaryExtensions[ext] {
		return "", fmt.Errorf("binary file type %s", ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("file not found")
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory")
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("file too large (%d bytes)", info.Size())
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read failed: %v", err)
	}
	if bytes.IndexByte(head(raw, 8192), 0) >= 0 {
		return "", fmt.Errorf("binary content")
	}
	return decodeText(raw)
}

func head(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// decodeText returns the file as UTF-8, sniffing the charset for
// legacy encodings.
func decodeText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	r, err := charset.NewReader(bytes.NewReader(raw), "")
	if err != nil {
		return "", fmt.Errorf("charset detection failed: %v", err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("charset decode failed: %v", err)
	}
	return string(decoded), nil
}
