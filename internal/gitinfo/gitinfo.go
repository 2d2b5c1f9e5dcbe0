// Package gitinfo reads source-control details shown next to a session.
package gitinfo

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Branch returns the branch checked out in the repository containing dir.
// It returns "" outside a repository and when HEAD is detached. A branch
// with no commits yet is still reported.
func Branch(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil || head.Type() != plumbing.SymbolicReference {
		return ""
	}
	if !head.Target().IsBranch() {
		return ""
	}
	return head.Target().Short()
}
