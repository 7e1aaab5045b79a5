package githubctx

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

// ContextAdapter exposes the github_context tool: recent commits touching
// a path plus recent pull requests, fetched live from the GitHub API.
type ContextAdapter struct {
	client *Client
	repo   string
}

// NewContextAdapter creates the adapter. The token source is owned by the
// adapter and shared between its requests.
func NewContextAdapter(cfg Config) *ContextAdapter {
	return &ContextAdapter{
		client: NewClient(cfg, NewTokenSource(cfg)),
		repo:   cfg.Repo,
	}
}

func (a *ContextAdapter) Definition() mcp.Tool {
	return mcp.Tool{
		Name:        "github_context",
		Description: "Fetch GitHub history context for a path: recent commits that touched it and recent pull requests in the repository.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Repository-relative file or directory path",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum commits and pull requests to return (default 10)",
					"minimum":     1,
					"maximum":     50,
				},
			},
			Required: []string{"path"},
		},
	}
}

// Initialize verifies the configured repository is reachable with the
// configured credentials, so a bad token fails at startup instead of on
// the first call.
func (a *ContextAdapter) Initialize(ctx context.Context, _ *tools.ExecContext) error {
	var repo map[string]interface{}
	if err := a.client.GetJSON(ctx, "/repos/"+a.repo, &repo); err != nil {
		return fmt.Errorf("verify repository %s: %w", a.repo, err)
	}
	return nil
}

func (a *ContextAdapter) Execute(ctx context.Context, args map[string]interface{}, ec *tools.ExecContext) tools.ExecutionResult {
	path, _ := args["path"].(string)
	limit := 10
	if n, ok := args["limit"].(float64); ok {
		limit = int(n)
	}

	commitsPath := fmt.Sprintf("/repos/%s/commits?path=%s&per_page=%d", a.repo, url.QueryEscape(path), limit)
	commits, err := a.client.ListAll(ctx, commitsPath, limit)
	if err != nil {
		return a.failure(ctx, fmt.Sprintf("fetch commits for %s: %v", path, err))
	}

	pullsPath := fmt.Sprintf("/repos/%s/pulls?state=all&sort=updated&direction=desc&per_page=%d", a.repo, limit)
	pulls, err := a.client.ListAll(ctx, pullsPath, limit)
	if err != nil {
		return a.failure(ctx, fmt.Sprintf("fetch pull requests: %v", err))
	}

	ec.Logger.Debug().
		Str("tool", "github_context").
		Str("path", path).
		Int("commits", len(commits)).
		Int("pulls", len(pulls)).
		Msg("GitHub context assembled")

	return tools.OK(map[string]interface{}{
		"repository": a.repo,
		"path":       path,
		"commits":    summarizeCommits(commits),
		"pulls":      summarizePulls(pulls),
	})
}

func (a *ContextAdapter) failure(ctx context.Context, msg string) tools.ExecutionResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tools.FailWith(&tools.ToolError{
			Code:       tools.CodeTimeout,
			Message:    "GitHub API request timed out",
			Suggestion: "retry with a smaller limit",
		})
	}
	return tools.FailWith(&tools.ToolError{
		Code:       tools.CodeInternalError,
		Message:    msg,
		Suggestion: "check GITHUB_TOKEN and AGENT_GITHUB_REPO",
	})
}

// summarizeCommits trims the raw API payload to what an assistant needs.
func summarizeCommits(commits []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(commits))
	for _, c := range commits {
		item := map[string]interface{}{"sha": c["sha"]}
		if commit, ok := c["commit"].(map[string]interface{}); ok {
			item["message"] = commit["message"]
			if author, ok := commit["author"].(map[string]interface{}); ok {
				item["author"] = author["name"]
				item["date"] = author["date"]
			}
		}
		out = append(out, item)
	}
	return out
}

func summarizePulls(pulls []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(pulls))
	for _, p := range pulls {
		item := map[string]interface{}{
			"number": p["number"],
			"title":  p["title"],
			"state":  p["state"],
		}
		if user, ok := p["user"].(map[string]interface{}); ok {
			item["author"] = user["login"]
		}
		out = append(out, item)
	}
	return out
}
