package gitinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranch(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("review/42"))
	require.NoError(t, repo.Storer.SetReference(head))

	assert.Equal(t, "review/42", Branch(dir))

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	assert.Equal(t, "review/42", Branch(sub))
}

func TestBranch_DetachedHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	detached := plumbing.NewHashReference(plumbing.HEAD, plumbing.NewHash("0123456789abcdef0123456789abcdef01234567"))
	require.NoError(t, repo.Storer.SetReference(detached))

	assert.Empty(t, Branch(dir))
}

func TestBranch_NotARepository(t *testing.T) {
	assert.Empty(t, Branch(filepath.Join(t.TempDir(), "missing")))
}
