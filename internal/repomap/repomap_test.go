package repomap

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/codectx/dev-agent-mcp/internal/tools"
)

func testExecContext() *tools.ExecContext {
	return &tools.ExecContext{SessionID: "s", InvocationID: "i", Logger: zerolog.Nop()}
}

func signature(name string, when time.Time) *object.Signature {
	return &object.Signature{Name: name, Email: name + "@example.com", When: when}
}

// initTestRepo builds a repository with commits from two authors:
// alice owns internal/auth, bob touches it once and owns docs.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}

	when := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	commit := func(author, rel, content, msg string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := wt.Add(rel); err != nil {
			t.Fatalf("add %s: %v", rel, err)
		}
		when = when.Add(time.Hour)
		if _, err := wt.Commit(msg, &git.CommitOptions{Author: signature(author, when)}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	commit("alice", "internal/auth/login.go", "package auth\n", "add login")
	commit("alice", "internal/auth/token.go", "package auth\n", "add tokens")
	commit("bob", "internal/auth/login.go", "package auth\n// fix\n", "fix login")
	commit("bob", "docs/readme.md", "# readme\n", "add docs")
	commit("alice", "main.go", "package main\n", "add main")

	return dir
}

func TestMapAdapter_Execute(t *testing.T) {
	dir := initTestRepo(t)
	adapter := NewMapAdapter(NewRepo(dir))

	if err := adapter.Initialize(context.Background(), testExecContext()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	result := adapter.Execute(context.Background(), map[string]interface{}{}, testExecContext())
	if !result.Success {
		t.Fatalf("Execute() failed: %+v", result.Err)
	}

	data := result.Data.(map[string]interface{})
	if total := data["total_files"].(int); total != 4 {
		t.Errorf("total_files = %d, want 4", total)
	}
}

func TestMapAdapter_PrefixFilter(t *testing.T) {
	dir := initTestRepo(t)
	adapter := NewMapAdapter(NewRepo(dir))

	result := adapter.Execute(context.Background(), map[string]interface{}{"prefix": "internal/auth"}, testExecContext())
	if !result.Success {
		t.Fatalf("Execute() failed: %+v", result.Err)
	}

	data := result.Data.(map[string]interface{})
	if total := data["total_files"].(int); total != 2 {
		t.Errorf("total_files = %d, want 2", total)
	}
}

func TestMapAdapter_NotARepo(t *testing.T) {
	adapter := NewMapAdapter(NewRepo(t.TempDir()))
	if err := adapter.Initialize(context.Background(), testExecContext()); err == nil {
		t.Fatal("Initialize() on a non-repo returned nil error")
	}
}

func TestTruncateDir(t *testing.T) {
	tests := []struct {
		path  string
		depth int
		want  string
	}{
		{"main.go", 3, "."},
		{"internal/auth/login.go", 3, "internal/auth"},
		{"a/b/c/d/e.go", 2, "a/b"},
	}
	for _, tt := range tests {
		if got := truncateDir(tt.path, tt.depth); got != tt.want {
			t.Errorf("truncateDir(%q, %d) = %q, want %q", tt.path, tt.depth, got, tt.want)
		}
	}
}

func TestOwnersAdapter_Execute(t *testing.T) {
	dir := initTestRepo(t)
	adapter := NewOwnersAdapter(NewRepo(dir))

	result := adapter.Execute(context.Background(), map[string]interface{}{"path": "internal/auth"}, testExecContext())
	if !result.Success {
		t.Fatalf("Execute() failed: %+v", result.Err)
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var data struct {
		CommitsScanned int `json:"commits_scanned"`
		Owners         []struct {
			Author  string  `json:"author"`
			Commits int     `json:"commits"`
			Share   float64 `json:"share"`
		} `json:"owners"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	if data.CommitsScanned != 3 {
		t.Errorf("commits_scanned = %d, want 3", data.CommitsScanned)
	}
	if len(data.Owners) != 2 {
		t.Fatalf("owners = %d, want 2", len(data.Owners))
	}
	if data.Owners[0].Author != "alice <alice@example.com>" {
		t.Errorf("top owner = %v, want alice", data.Owners[0].Author)
	}
	if data.Owners[0].Commits != 2 {
		t.Errorf("top owner commits = %d, want 2", data.Owners[0].Commits)
	}
	if data.Owners[0].Share != 66.7 {
		t.Errorf("top owner share = %v, want 66.7", data.Owners[0].Share)
	}
}

func TestOwnersAdapter_MissingPath(t *testing.T) {
	dir := initTestRepo(t)
	adapter := NewOwnersAdapter(NewRepo(dir))

	result := adapter.Execute(context.Background(), map[string]interface{}{}, testExecContext())
	if result.Success {
		t.Fatal("Execute() without a path succeeded")
	}
	if result.Err.Code != tools.CodeInvalidParams {
		t.Errorf("Code = %v, want %v", result.Err.Code, tools.CodeInvalidParams)
	}
}

func TestOwnersAdapter_PathWithNoHistory(t *testing.T) {
	dir := initTestRepo(t)
	adapter := NewOwnersAdapter(NewRepo(dir))

	result := adapter.Execute(context.Background(), map[string]interface{}{"path": "nonexistent"}, testExecContext())
	if result.Success {
		t.Fatal("Execute() on untouched path succeeded")
	}
	if result.Err.Code != tools.CodeNotFound {
		t.Errorf("Code = %v, want %v", result.Err.Code, tools.CodeNotFound)
	}
}
