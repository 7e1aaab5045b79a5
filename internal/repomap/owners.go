package repomap

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

// OwnersAdapter exposes the code_owners tool: commit-author ownership
// shares for a path, derived from git history.
type OwnersAdapter struct {
	repo *Repo
}

// NewOwnersAdapter creates the adapter over a shared repository handle.
func NewOwnersAdapter(repo *Repo) *OwnersAdapter {
	return &OwnersAdapter{repo: repo}
}

func (a *OwnersAdapter) Definition() mcp.Tool {
	return mcp.Tool{
		Name:        "code_owners",
		Description: "Estimate who owns a path: the share of recent commits each author contributed to it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Repository-relative file or directory path",
				},
				"max_commits": map[string]interface{}{
					"type":        "integer",
					"description": "How far back to look (default 200 commits)",
					"minimum":     1,
					"maximum":     2000,
				},
			},
			Required: []string{"path"},
		},
	}
}

// Initialize opens the repository so a missing .git fails at startup.
func (a *OwnersAdapter) Initialize(_ context.Context, _ *tools.ExecContext) error {
	_, err := a.repo.open()
	return err
}

func (a *OwnersAdapter) Execute(_ context.Context, args map[string]interface{}, ec *tools.ExecContext) tools.ExecutionResult {
	raw, _ := args["path"].(string)
	path := strings.Trim(raw, "/")
	if path == "" {
		return tools.Fail(tools.CodeInvalidParams, "path is required")
	}
	maxCommits := 200
	if n, ok := args["max_commits"].(float64); ok {
		maxCommits = int(n)
	}

	repo, err := a.repo.open()
	if err != nil {
		return tools.Fail(tools.CodeInternalError, err.Error())
	}

	iter, err := repo.Log(&git.LogOptions{
		PathFilter: func(p string) bool {
			return p == path || strings.HasPrefix(p, path+"/")
		},
	})
	if err != nil {
		return tools.FailWith(&tools.ToolError{
			Code:       tools.CodeInternalError,
			Message:    fmt.Sprintf("read history for %s: %v", path, err),
			Suggestion: "point AGENT_REPO_ROOT at a git repository with at least one commit",
		})
	}
	defer iter.Close()

	counts := make(map[string]int)
	total := 0
	err = iter.ForEach(func(c *object.Commit) error {
		counts[fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)]++
		total++
		if total >= maxCommits {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return tools.Fail(tools.CodeInternalError, fmt.Sprintf("walk history: %v", err))
	}

	if total == 0 {
		return tools.FailWith(&tools.ToolError{
			Code:       tools.CodeNotFound,
			Message:    fmt.Sprintf("no commits touch %s", path),
			Suggestion: "check the path against repo_map output",
		})
	}

	type owner struct {
		Author  string  `json:"author"`
		Commits int     `json:"commits"`
		Share   float64 `json:"share"`
	}
	owners := make([]owner, 0, len(counts))
	for author, n := range counts {
		share := math.Round(float64(n)/float64(total)*1000) / 10
		owners = append(owners, owner{Author: author, Commits: n, Share: share})
	}
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].Commits != owners[j].Commits {
			return owners[i].Commits > owners[j].Commits
		}
		return owners[i].Author < owners[j].Author
	})

	ec.Logger.Debug().
		Str("tool", "code_owners").
		Str("path", path).
		Int("commits_scanned", total).
		Int("authors", len(owners)).
		Msg("Ownership computed")

	return tools.OK(map[string]interface{}{
		"path":            path,
		"commits_scanned": total,
		"owners":          owners,
	})
}
