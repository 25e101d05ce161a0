package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/litsync/litsync/context7"
	"github.com/litsync/litsync/diffgen"
	"github.com/litsync/litsync/parse"
	"github.com/litsync/litsync/promptgen"
)

// ErrBadRequest marks caller mistakes (missing fields, unparsable
// messages) so transports can map them to 400 instead of 502.
var ErrBadRequest = errors.New("server: bad request")

// Agent-facing payload shapes.

type fileTreeResponse struct {
	Files []string `json:"files"`
}

// FileEntry is one file as reported by an agent: content, or the
// reason it could not be served.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

type fileContentResponse struct {
	Files []FileEntry `json:"files"`
}

type updateFilesPayload struct {
	Files []parse.FilePair `json:"files"`
}

type pathsPayload struct {
	Paths []string `json:"paths"`
}

func (s *Server) registeredClient(id string) (Client, error) {
	c, ok := s.reg.Get(id)
	if !ok || !c.Registered {
		return Client{}, fmt.Errorf("client %q: %w", id, ErrUnknownClient)
	}
	return c, nil
}

// SyncResult summarises a completed sync push.
type SyncResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	FilesSent int    `json:"files_sent"`
}

// Sync parses an assistant message into file pairs and pushes them to
// the agent for writing. A message with no recognisable file blocks is
// a bad request; the parse debug info rides along on the error.
func (s *Server) Sync(ctx context.Context, clientID, message string) (res *SyncResult, debug parse.DebugInfo, err error) {
	started := time.Now()
	defer func() {
		sent := 0
		if res != nil {
			sent = res.FilesSent
		}
		s.record("sync", clientID, map[string]int{"files_sent": sent}, err, started)
	}()

	if _, err := s.registeredClient(clientID); err != nil {
		return nil, parse.DebugInfo{}, err
	}

	pairs, debug := s.parser.Parse(message)
	if len(pairs) == 0 {
		return nil, debug, fmt.Errorf("no file changes found in message: %w", ErrBadRequest)
	}

	if err := s.coord.Push(clientID, "update_files", updateFilesPayload{Files: pairs}); err != nil {
		return nil, debug, err
	}
	s.logger.Info("sync dispatched", "client_id", clientID, "files", len(pairs))
	return &SyncResult{
		Status:    "success",
		Message:   fmt.Sprintf("sync command sent to %s", clientID),
		FilesSent: len(pairs),
	}, debug, nil
}

// PreviewSync parses the message like Sync but, instead of writing,
// fetches the current file contents from the agent and returns per-file
// diff hunks.
func (s *Server) PreviewSync(ctx context.Context, clientID, message string) (changes []diffgen.FileChange, debug parse.DebugInfo, err error) {
	started := time.Now()
	defer func() {
		s.record("preview", clientID, map[string]int{"files": len(changes)}, err, started)
	}()

	if _, err := s.registeredClient(clientID); err != nil {
		return nil, parse.DebugInfo{}, err
	}

	pairs, debug := s.parser.Parse(message)
	if len(pairs) == 0 {
		return nil, debug, fmt.Errorf("no file changes found in message: %w", ErrBadRequest)
	}

	paths := make([]string, 0, len(pairs))
	for _, p := range pairs {
		paths = append(paths, p.Path)
	}
	current, err := s.requestFileContent(ctx, clientID, paths)
	if err != nil {
		return nil, debug, err
	}

	existing := make(map[string]string, len(current.Files))
	for _, f := range current.Files {
		if f.Error == "" {
			existing[f.Path] = f.Content
		}
	}

	changes = make([]diffgen.FileChange, 0, len(pairs))
	for _, p := range pairs {
		old, ok := existing[p.Path]
		changes = append(changes, s.differ.DiffFile(p.Path, old, p.Content, !ok))
	}
	return changes, debug, nil
}

// FileTree asks the agent for its workspace file listing.
func (s *Server) FileTree(ctx context.Context, clientID string) ([]string, error) {
	if _, err := s.registeredClient(clientID); err != nil {
		return nil, err
	}
	raw, err := s.coord.Request(ctx, clientID, "get_file_tree", nil)
	if err != nil {
		return nil, err
	}
	var tree fileTreeResponse
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("server: decode file tree: %w", err)
	}
	return tree.Files, nil
}

// FileContent asks the agent for the contents of specific files.
func (s *Server) FileContent(ctx context.Context, clientID string, paths []string) ([]FileEntry, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("paths list is required: %w", ErrBadRequest)
	}
	if _, err := s.registeredClient(clientID); err != nil {
		return nil, err
	}
	resp, err := s.requestFileContent(ctx, clientID, paths)
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (s *Server) requestFileContent(ctx context.Context, clientID string, paths []string) (*fileContentResponse, error) {
	raw, err := s.coord.Request(ctx, clientID, "get_file_content", pathsPayload{Paths: paths})
	if err != nil {
		return nil, err
	}
	var resp fileContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("server: decode file contents: %w", err)
	}
	return &resp, nil
}

// LibraryRef selects documentation to append to a generated prompt.
type LibraryRef struct {
	ID     string `json:"id"`
	Topic  string `json:"topic,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

// GeneratePromptRequest selects workspace files and optional library
// docs for a context prompt.
type GeneratePromptRequest struct {
	ClientID  string       `json:"client_id"`
	Paths     []string     `json:"paths"`
	Libraries []LibraryRef `json:"libraries,omitempty"`
}

// GeneratePromptResult is the rendered prompt plus inclusion counts.
type GeneratePromptResult struct {
	Prompt        string `json:"prompt"`
	FilesIncluded int    `json:"files_included"`
	DocsIncluded  int    `json:"docs_included"`
}

// GeneratePrompt builds the project-context prompt: the agent's full
// file tree, the selected files' contents, and any requested library
// documentation.
func (s *Server) GeneratePrompt(ctx context.Context, req GeneratePromptRequest) (*GeneratePromptResult, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("paths list is required: %w", ErrBadRequest)
	}
	if _, err := s.registeredClient(req.ClientID); err != nil {
		return nil, err
	}

	tree, err := s.FileTree(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	contents, err := s.requestFileContent(ctx, req.ClientID, req.Paths)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*string)
	for _, f := range contents.Files {
		if f.Error != "" {
			s.logger.Warn("file skipped in prompt",
				"client_id", req.ClientID, "path", f.Path, "error", f.Error)
			continue
		}
		content := f.Content
		byPath[f.Path] = &content
	}

	seen := make(map[string]bool, len(tree))
	files := make([]promptgen.File, 0, len(tree))
	for _, path := range tree {
		seen[path] = true
		files = append(files, promptgen.File{Path: path, Content: byPath[path]})
	}
	// Selected files missing from the tree (fresh, or tree raced a
	// write) still get included with their content.
	for path, content := range byPath {
		if !seen[path] {
			files = append(files, promptgen.File{Path: path, Content: content})
		}
	}

	docs, err := s.fetchDocs(ctx, req.Libraries)
	if err != nil {
		return nil, err
	}

	rootName := s.reg.RootDirName(req.ClientID)
	if rootName == "" {
		rootName = "unknown_project"
	}
	return &GeneratePromptResult{
		Prompt:        promptgen.Build(files, rootName, docs),
		FilesIncluded: len(byPath),
		DocsIncluded:  len(docs),
	}, nil
}

func (s *Server) fetchDocs(ctx context.Context, libs []LibraryRef) ([]promptgen.Doc, error) {
	var docs []promptgen.Doc
	for _, lib := range libs {
		text, err := s.docs.FetchDocumentation(ctx, lib.ID, context7.FetchOptions{
			Tokens: lib.Tokens,
			Topic:  lib.Topic,
		})
		if err != nil {
			var rle *context7.RateLimitError
			if errors.As(err, &rle) {
				return nil, err
			}
			s.logger.Warn("documentation fetch failed", "library_id", lib.ID, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		docs = append(docs, promptgen.Doc{Title: lib.ID, Content: text})
	}
	return docs, nil
}

// SearchDocs searches the documentation API for libraries.
func (s *Server) SearchDocs(ctx context.Context, query string) (*context7.SearchResponse, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", ErrBadRequest)
	}
	return s.docs.Search(ctx, query)
}

// FetchDocs returns documentation text for one library ID, or "" when
// the library has none.
func (s *Server) FetchDocs(ctx context.Context, libraryID string, opts context7.FetchOptions) (string, error) {
	return s.docs.FetchDocumentation(ctx, libraryID, opts)
}
