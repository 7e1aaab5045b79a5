package repomap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing/object"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

// MapAdapter exposes the repo_map tool: the tracked-file tree at HEAD,
// optionally narrowed to a prefix and truncated at a directory depth.
type MapAdapter struct {
	repo *Repo
}

// NewMapAdapter creates the adapter over a shared repository handle.
func NewMapAdapter(repo *Repo) *MapAdapter {
	return &MapAdapter{repo: repo}
}

func (a *MapAdapter) Definition() mcp.Tool {
	return mcp.Tool{
		Name:        "repo_map",
		Description: "Map the repository structure: tracked files at HEAD grouped by directory, optionally narrowed to a path prefix.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only include files under this repository-relative prefix",
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Collapse directories deeper than this many levels (default 3)",
					"minimum":     1,
					"maximum":     16,
				},
			},
		},
	}
}

// Initialize opens the repository so a missing .git fails at startup.
func (a *MapAdapter) Initialize(_ context.Context, _ *tools.ExecContext) error {
	_, err := a.repo.open()
	return err
}

func (a *MapAdapter) Execute(_ context.Context, args map[string]interface{}, ec *tools.ExecContext) tools.ExecutionResult {
	prefix, _ := args["prefix"].(string)
	prefix = strings.Trim(prefix, "/")
	maxDepth := 3
	if n, ok := args["max_depth"].(float64); ok {
		maxDepth = int(n)
	}

	tree, err := a.headTree()
	if err != nil {
		return tools.FailWith(&tools.ToolError{
			Code:       tools.CodeInternalError,
			Message:    err.Error(),
			Suggestion: "point AGENT_REPO_ROOT at a git repository with at least one commit",
		})
	}

	total := 0
	dirFiles := make(map[string]int)
	iter := tree.Files()
	err = iter.ForEach(func(f *object.File) error {
		if prefix != "" && f.Name != prefix && !strings.HasPrefix(f.Name, prefix+"/") {
			return nil
		}
		total++
		dirFiles[truncateDir(f.Name, maxDepth)]++
		return nil
	})
	if err != nil {
		return tools.Fail(tools.CodeInternalError, fmt.Sprintf("walk tree: %v", err))
	}

	type dirEntry struct {
		Path  string `json:"path"`
		Files int    `json:"files"`
	}
	entries := make([]dirEntry, 0, len(dirFiles))
	for path, n := range dirFiles {
		entries = append(entries, dirEntry{Path: path, Files: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	ec.Logger.Debug().
		Str("tool", "repo_map").
		Str("prefix", prefix).
		Int("total_files", total).
		Msg("Repository mapped")

	return tools.OK(map[string]interface{}{
		"prefix":      prefix,
		"total_files": total,
		"directories": entries,
	})
}

func (a *MapAdapter) headTree() (*object.Tree, error) {
	repo, err := a.repo.open()
	if err != nil {
		return nil, err
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load HEAD tree: %w", err)
	}
	return tree, nil
}

// truncateDir reduces a file path to its directory truncated at depth
// levels; files in the repository root map to ".".
func truncateDir(path string, depth int) string {
	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		return "."
	}
	dirs := parts[:len(parts)-1]
	if len(dirs) > depth {
		dirs = dirs[:depth]
	}
	return strings.Join(dirs, "/")
}
