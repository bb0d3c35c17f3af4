package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/store"
	"github.com/Holovkat/Auto-Claude/internal/worktree"
)

// fakeMerger records calls and returns a canned result.
type fakeMerger struct {
	result *models.MergeResult
	err    error
	calls  int
}

func (f *fakeMerger) Merge(_ context.Context, source, target string) (*models.MergeResult, error) {
	f.calls++
	return f.result, f.err
}

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

func newTestServer(t *testing.T, merger Merger) (*Server, string) {
	t.Helper()
	repo := newTestRepo(t)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	gc := git.NewClient()
	mgr := worktree.NewManager(repo, "", gc, st)
	tracker := evolution.NewTracker(repo, gc, st)

	return NewServer(st, gc, mgr, tracker, merger), repo
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

func TestCreateAndListWorktrees(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	result, err := srv.handleCreateWorktree(ctx, callToolReq("autoclaude_create_worktree", map[string]any{
		"session_id": "build-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var created sessionOut
	resultJSON(t, result, &created)
	assert.Equal(t, "autoclaude/build-1", created.BranchName)
	assert.Equal(t, "active", created.Status)

	result, err = srv.handleListWorktrees(ctx, callToolReq("autoclaude_list_worktrees", nil))
	require.NoError(t, err)

	var sessions []sessionOut
	resultJSON(t, result, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "build-1", sessions[0].SessionID)
}

func TestCreateWorktree_MissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	result, err := srv.handleCreateWorktree(context.Background(), callToolReq("autoclaude_create_worktree", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session_id")
}

func TestDestroyWorktree(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	result, err := srv.handleCreateWorktree(ctx, callToolReq("autoclaude_create_worktree", map[string]any{
		"session_id": "build-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = srv.handleDestroyWorktree(ctx, callToolReq("autoclaude_destroy_worktree", map[string]any{
		"session_id":    "build-1",
		"delete_branch": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleListWorktrees(ctx, callToolReq("autoclaude_list_worktrees", nil))
	require.NoError(t, err)
	var sessions []sessionOut
	resultJSON(t, result, &sessions)
	assert.Empty(t, sessions)
}

func TestDestroyWorktree_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	result, err := srv.handleDestroyWorktree(context.Background(), callToolReq("autoclaude_destroy_worktree", map[string]any{
		"session_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session not found")
}

func TestRecordChangeAndFileHistory(t *testing.T) {
	srv, repo := newTestServer(t, nil)
	ctx := context.Background()

	base, err := git.NewClient().RevParse(repo, "main")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.go"), []byte("package a\n"), 0644))
	require.NoError(t, exec.Command("git", "-C", repo, "add", ".").Run())
	require.NoError(t, exec.Command("git", "-C", repo, "commit", "-m", "add a").Run())
	tip, err := git.NewClient().RevParse(repo, "main")
	require.NoError(t, err)

	result, err := srv.handleRecordChange(ctx, callToolReq("autoclaude_record_change", map[string]any{
		"path":       "a.go",
		"commit":     tip,
		"session_id": "build-1",
		"summary":    "seed package a",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleFileHistory(ctx, callToolReq("autoclaude_file_history", map[string]any{
		"path":  "a.go",
		"since": base,
		"tip":   "main",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var entries []map[string]any
	resultJSON(t, result, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "seed package a", entries[0]["summary"])
	assert.Equal(t, "build-1", entries[0]["session_id"])
}

func TestMergeBranch_NoMergerConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	result, err := srv.handleMergeBranch(context.Background(), callToolReq("autoclaude_merge_branch", map[string]any{
		"source": "autoclaude/build-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no resolver configured")
}

func TestMergeBranch_ReturnsResult(t *testing.T) {
	merger := &fakeMerger{
		result: &models.MergeResult{
			ID:           "01TEST",
			SourceBranch: "autoclaude/build-1",
			TargetBranch: "main",
			Outcome:      models.MergeOutcomeClean,
			MergedCommit: "abc123",
			CleanFiles:   []string{"a.txt"},
			Resolved: map[string]*models.ResolutionAttempt{
				"b.txt": {Tier: models.TierRegionAI, Outcome: models.AttemptAccepted},
			},
		},
	}
	srv, _ := newTestServer(t, merger)

	result, err := srv.handleMergeBranch(context.Background(), callToolReq("autoclaude_merge_branch", map[string]any{
		"source": "autoclaude/build-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, 1, merger.calls)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "clean", out["outcome"])
	assert.Equal(t, "abc123", out["merged_commit"])
	assert.Equal(t, "region-ai", out["resolved"].(map[string]any)["b.txt"])
}

func TestMergeBranch_ErrorWithPartialResult(t *testing.T) {
	merger := &fakeMerger{
		result: &models.MergeResult{
			ID:           "01TEST",
			SourceBranch: "autoclaude/build-1",
			TargetBranch: "main",
			Outcome:      models.MergeOutcomeFailed,
			Unresolved:   map[string]string{"a.bin": "binary-conflict"},
			StagingDir:   "/tmp/staging/01TEST",
		},
		err: errors.New("commit merge: boom"),
	}
	srv, _ := newTestServer(t, merger)

	result, err := srv.handleMergeBranch(context.Background(), callToolReq("autoclaude_merge_branch", map[string]any{
		"source": "autoclaude/build-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "failed", out["outcome"])
	assert.Contains(t, out["error"], "boom")
	assert.Equal(t, "/tmp/staging/01TEST", out["staging_dir"])
}

func TestMCPServerRegistersTools(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.NotNil(t, srv.MCPServer())
}
