package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/store"
)

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	cmds := [][]string{
		{"git", "-C", dir, "init", "-b", "main"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
		{"git", "-C", dir, "commit", "--allow-empty", "-m", "initial"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
	return dir
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := newTestRepo(t)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	return NewManager(repo, "", git.NewClient(), st), repo
}

func TestCreate(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	session, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)

	assert.Equal(t, "autoclaude/build-1", session.BranchName)
	assert.Equal(t, filepath.Join(repo+".worktrees", "build-1"), session.RootPath)
	assert.Equal(t, models.WorktreeStatusActive, session.Status)
	assert.Len(t, session.BaseCommit, 40)

	_, err = os.Stat(session.RootPath)
	assert.NoError(t, err, "worktree directory should exist")
}

func TestCreate_AlreadyExists(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)

	_, err = m.Create(ctx, "main", "build-1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_BaseBranchMissing(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create(context.Background(), "no-such-branch", "build-1")
	assert.ErrorIs(t, err, ErrBaseBranchMissing)
}

func TestCreate_IndependentSessionsOnSameBase(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s1, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)
	s2, err := m.Create(ctx, "main", "build-2")
	require.NoError(t, err)

	assert.NotEqual(t, s1.RootPath, s2.RootPath)
	assert.NotEqual(t, s1.BranchName, s2.BranchName)
	assert.Equal(t, s1.BaseCommit, s2.BaseCommit)
}

func TestDestroy_KeepsBranchByDefault(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	session, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, session, false))

	_, err = os.Stat(session.RootPath)
	assert.True(t, os.IsNotExist(err), "worktree directory should be removed")

	exists, err := git.NewClient().BranchExists(repo, session.BranchName)
	require.NoError(t, err)
	assert.True(t, exists, "branch should survive for inspection")
	assert.Equal(t, models.WorktreeStatusClosed, session.Status)
}

func TestDestroy_ForceDeleteBranch(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	session, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, session, true))

	exists, err := git.NewClient().BranchExists(repo, session.BranchName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListActive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s1, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "main", "build-2")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s1, false))

	live, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "build-2", live[0].SessionID)
}

func TestCreate_ReusedSessionIDAfterClose(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, first, true))

	// Only live sessions block creation; the closed record stays as
	// history and the ID can be reused.
	second, err := m.Create(ctx, "main", "build-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.WorktreeStatusActive, second.Status)

	_, err = os.Stat(second.RootPath)
	assert.NoError(t, err, "recreated worktree directory should exist")

	live, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, second.ID, live[0].ID)
}
