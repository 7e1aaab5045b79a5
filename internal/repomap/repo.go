// Package repomap provides the repository mapping tool adapters:
// repo_map (tracked-file tree) and code_owners (per-path commit-author
// ownership), both backed by go-git against the local working tree.
package repomap

import (
	"fmt"
	"sync"

	git "github.com/go-git/go-git/v6"
)

// Repo is a lazily opened git repository shared by the adapters in this
// package, so the repository is opened once regardless of how many of its
// tools are registered.
type Repo struct {
	root string

	once sync.Once
	repo *git.Repository
	err  error
}

// NewRepo creates a handle rooted at the given working tree path.
func NewRepo(root string) *Repo {
	return &Repo{root: root}
}

func (r *Repo) open() (*git.Repository, error) {
	r.once.Do(func() {
		repo, err := git.PlainOpenWithOptions(r.root, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			r.err = fmt.Errorf("open repository at %s: %w", r.root, err)
			return
		}
		r.repo = repo
	})
	return r.repo, r.err
}
