// Package search provides the dev_search tool adapter: lexical search
// over the working tree, ranking files by how well their path and content
// match the query terms.
package search

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

// skipDirs are never descended into.
var skipDirs = []string{
	"node_modules", ".git", "vendor", "target", "build", ".next",
	"dist", ".cache", "__pycache__", ".vscode", ".idea",
}

// maxFileBytes skips files too large to be source code.
const maxFileBytes = 1 << 20

// Match is one scored search hit.
type Match struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// Adapter exposes the dev_search tool over a repository root.
type Adapter struct {
	root string
}

// NewAdapter creates a search adapter rooted at the given directory.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

func (a *Adapter) Definition() mcp.Tool {
	return mcp.Tool{
		Name:        "dev_search",
		Description: "Search the codebase for a query. Matches file paths and file content, case-insensitively, and returns the best-scoring lines.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search terms, space separated",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches to return (default 20)",
					"minimum":     1,
					"maximum":     200,
				},
				"ext": map[string]interface{}{
					"type":        "string",
					"description": "Only search files with this extension, e.g. '.go'",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Initialize rejects a root that does not exist, at startup.
func (a *Adapter) Initialize(_ context.Context, _ *tools.ExecContext) error {
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("search root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("search root %s is not a directory", a.root)
	}
	return nil
}

func (a *Adapter) Execute(ctx context.Context, args map[string]interface{}, ec *tools.ExecContext) tools.ExecutionResult {
	query, _ := args["query"].(string)
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return tools.Fail(tools.CodeInvalidParams, "query must contain at least one term")
	}

	limit := 20
	if n, ok := args["limit"].(float64); ok {
		limit = int(n)
	}
	ext, _ := args["ext"].(string)

	var matches []Match
	scanned := 0
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			if slices.Contains(skipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileBytes {
			return nil
		}

		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return nil
		}
		scanned++
		matches = append(matches, scanFile(path, rel, terms)...)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return tools.FailWith(&tools.ToolError{
				Code:       tools.CodeTimeout,
				Message:    "search timed out",
				Suggestion: "narrow the query with 'ext' or a shorter term list",
			})
		}
		return tools.Fail(tools.CodeInternalError, fmt.Sprintf("walk %s: %v", a.root, err))
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	ec.Logger.Debug().
		Str("tool", "dev_search").
		Str("query", query).
		Int("files_scanned", scanned).
		Int("matches", len(matches)).
		Msg("Search complete")

	return tools.OK(map[string]interface{}{
		"query":         query,
		"files_scanned": scanned,
		"matches":       matches,
	})
}

// scanFile scores each line of one file. A line scores one point per term
// it contains, with a bonus when the file path itself matches a term.
func scanFile(path, rel string, terms []string) []Match {
	pathBonus := 0
	lowerRel := strings.ToLower(rel)
	for _, term := range terms {
		if strings.Contains(lowerRel, term) {
			pathBonus++
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxFileBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			// Binary file, stop scanning it.
			return nil
		}
		lower := strings.ToLower(line)
		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, Match{
				File:  filepath.ToSlash(rel),
				Line:  lineNo,
				Text:  strings.TrimSpace(line),
				Score: score + pathBonus,
			})
		}
	}
	return matches
}
