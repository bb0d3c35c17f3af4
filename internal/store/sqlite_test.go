package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Holovkat/Auto-Claude/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestWorktreeSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws := &models.WorktreeSession{
		SessionID:  "build-42",
		BranchName: "autoclaude/build-42",
		RootPath:   "/tmp/repo.worktrees/build-42",
		BaseBranch: "main",
		BaseCommit: "abc123",
	}
	require.NoError(t, s.CreateWorktreeSession(ctx, ws))
	assert.NotEmpty(t, ws.ID)
	assert.Equal(t, models.WorktreeStatusActive, ws.Status)
	assert.False(t, ws.CreatedAt.IsZero())

	got, err := s.GetWorktreeSession(ctx, "build-42")
	require.NoError(t, err)
	assert.Equal(t, ws.BranchName, got.BranchName)
	assert.Equal(t, ws.BaseCommit, got.BaseCommit)
	assert.Nil(t, got.ClosedAt)

	// Duplicate session IDs are rejected
	dup := &models.WorktreeSession{
		SessionID:  "build-42",
		BranchName: "autoclaude/build-42-dup",
		RootPath:   "/tmp/elsewhere",
		BaseBranch: "main",
		BaseCommit: "abc123",
	}
	assert.Error(t, s.CreateWorktreeSession(ctx, dup))

	// Update to closed
	now := time.Now().UTC()
	got.Status = models.WorktreeStatusClosed
	got.ClosedAt = &now
	require.NoError(t, s.UpdateWorktreeSession(ctx, got))

	closed, err := s.GetWorktreeSession(ctx, "build-42")
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
}

func TestWorktreeSession_ReuseIDAfterClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.WorktreeSession{
		SessionID:  "build-7",
		BranchName: "autoclaude/build-7",
		RootPath:   "/tmp/repo.worktrees/build-7",
		BaseBranch: "main",
		BaseCommit: "abc",
	}
	require.NoError(t, s.CreateWorktreeSession(ctx, first))

	now := time.Now().UTC()
	first.Status = models.WorktreeStatusClosed
	first.ClosedAt = &now
	require.NoError(t, s.UpdateWorktreeSession(ctx, first))

	// Uniqueness only binds live rows; the closed record is history.
	second := &models.WorktreeSession{
		SessionID:  "build-7",
		BranchName: "autoclaude/build-7",
		RootPath:   "/tmp/repo.worktrees/build-7",
		BaseBranch: "main",
		BaseCommit: "def",
	}
	require.NoError(t, s.CreateWorktreeSession(ctx, second))

	got, err := s.GetWorktreeSession(ctx, "build-7")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "lookup should return the live session")
	assert.Equal(t, models.WorktreeStatusActive, got.Status)

	// Closing the live row must not touch the historical one.
	got.Status = models.WorktreeStatusClosed
	got.ClosedAt = &now
	require.NoError(t, s.UpdateWorktreeSession(ctx, got))

	all, err := s.ListWorktreeSessions(ctx, models.WorktreeStatusClosed)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListWorktreeSessions_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.CreateWorktreeSession(ctx, &models.WorktreeSession{
			SessionID:  id,
			BranchName: "autoclaude/" + id,
			RootPath:   "/tmp/" + id,
			BaseBranch: "main",
			BaseCommit: "abc",
		}))
	}

	ws, err := s.GetWorktreeSession(ctx, "s2")
	require.NoError(t, err)
	ws.Status = models.WorktreeStatusClosed
	require.NoError(t, s.UpdateWorktreeSession(ctx, ws))

	active, err := s.ListWorktreeSessions(ctx, models.WorktreeStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := s.ListWorktreeSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEvolutionAppendOnlyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []*models.FileEvolutionEntry{
		{Path: "a.go", Commit: "c1", SessionID: "s1", Summary: "add handler"},
		{Path: "a.go", Commit: "c2", SessionID: "s2", Summary: "rename field"},
		{Path: "b.go", Commit: "c3", SessionID: "s1", Summary: "unrelated"},
		{Path: "a.go", Commit: "c4", SessionID: "s1", Summary: "fix bug"},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendEvolution(ctx, e))
	}

	got, err := s.ListEvolution(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].Commit)
	assert.Equal(t, "c2", got[1].Commit)
	assert.Equal(t, "c4", got[2].Commit)
	assert.Equal(t, "rename field", got[1].Summary)
}

func TestMergeResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.MergeResult{
		SourceBranch: "autoclaude/s1",
		TargetBranch: "main",
		BaseCommit:   "b1",
		SourceCommit: "s1c",
		TargetCommit: "t1c",
		CleanFiles:   []string{"clean.go"},
		Resolved: map[string]*models.ResolutionAttempt{
			"x.go": {Tier: models.TierRegionAI, Outcome: models.AttemptAccepted},
		},
		Attempts: map[string][]models.ResolutionAttempt{
			"x.go": {
				{Tier: models.TierAutoMerge, Outcome: models.AttemptRejected, Reason: "leftover-markers"},
				{Tier: models.TierRegionAI, Outcome: models.AttemptAccepted},
			},
		},
		Unresolved: map[string]string{"bin.dat": "binary-conflict"},
		Outcome:    models.MergeOutcomePartial,
		StagingDir: "/tmp/staging/main",
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateMergeResult(ctx, r))
	assert.NotEmpty(t, r.ID)

	results, err := s.ListMergeResults(ctx, "main", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, models.MergeOutcomePartial, got.Outcome)
	assert.Equal(t, []string{"clean.go"}, got.CleanFiles)
	require.Contains(t, got.Resolved, "x.go")
	assert.Equal(t, models.TierRegionAI, got.Resolved["x.go"].Tier)
	assert.Len(t, got.Attempts["x.go"], 2)
	assert.Equal(t, "binary-conflict", got.Unresolved["bin.dat"])

	other, err := s.ListMergeResults(ctx, "develop", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
