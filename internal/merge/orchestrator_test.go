package merge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Holovkat/Auto-Claude/internal/detect"
	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/resolve"
	"github.com/Holovkat/Auto-Claude/internal/store"
	"github.com/Holovkat/Auto-Claude/internal/validate"
)

type mockResolver struct {
	mu          sync.Mutex
	regionFn    func(*resolve.RegionRequest) (string, error)
	fileFn      func(*resolve.FileRequest) (string, error)
	regionCalls int
	fileCalls   int
}

func (m *mockResolver) ResolveRegion(_ context.Context, req *resolve.RegionRequest) (string, error) {
	m.mu.Lock()
	m.regionCalls++
	fn := m.regionFn
	m.mu.Unlock()
	if fn == nil {
		return "", errors.New("unexpected region call")
	}
	return fn(req)
}

func (m *mockResolver) ResolveFile(_ context.Context, req *resolve.FileRequest) (string, error) {
	m.mu.Lock()
	m.fileCalls++
	fn := m.fileFn
	m.mu.Unlock()
	if fn == nil {
		return "", errors.New("unexpected file call")
	}
	return fn(req)
}

func (m *mockResolver) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regionCalls, m.fileCalls
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "%v: %s", args, out)
}

func writeCommit(t *testing.T, dir string, files map[string]string, msg string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	run(t, dir, "git", "add", "-A")
	run(t, dir, "git", "commit", "-m", msg)
}

// branchRepo seeds main, then source and target branches with their
// respective changes, leaving main checked out.
func branchRepo(t *testing.T, base, source, target map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init", "-b", "main")
	run(t, dir, "git", "config", "user.email", "test@test.com")
	run(t, dir, "git", "config", "user.name", "Test")
	writeCommit(t, dir, base, "base")

	run(t, dir, "git", "checkout", "-b", "source")
	writeCommit(t, dir, source, "source change")

	run(t, dir, "git", "checkout", "main")
	run(t, dir, "git", "checkout", "-b", "target")
	writeCommit(t, dir, target, "target change")

	run(t, dir, "git", "checkout", "main")
	return dir
}

func newOrchestrator(t *testing.T, repo string, m *mockResolver, opts ...OrchestratorOption) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	gc := git.NewClient()
	tiered := resolve.NewTieredResolver(m, validate.NewValidator(), gc, resolve.WithMaxRetries(0))
	tracker := evolution.NewTracker(repo, gc, st)

	base := []OrchestratorOption{
		WithStagingDir(filepath.Join(t.TempDir(), "staging")),
		WithLockDir(filepath.Join(t.TempDir(), "locks")),
	}
	o := NewOrchestrator(repo, gc, st, detect.NewDetector(repo, gc), tiered, tracker, append(base, opts...)...)
	return o, st
}

func tip(t *testing.T, repo, branch string) string {
	t.Helper()
	out, err := git.NewClient().RevParse(repo, branch)
	require.NoError(t, err)
	return out
}

func TestMerge_DisjointEditsCommitCleanly(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\nsix\nseven\neight\n"
	repo := branchRepo(t,
		map[string]string{"a.txt": base},
		map[string]string{"a.txt": "ONE\ntwo\nthree\nfour\nfive\nsix\nseven\neight\n"},
		map[string]string{"a.txt": "one\ntwo\nthree\nfour\nfive\nsix\nseven\nEIGHT\n"},
	)

	m := &mockResolver{}
	o, _ := newOrchestrator(t, repo, m)

	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.Equal(t, models.MergeOutcomeClean, result.Outcome)
	assert.Equal(t, []string{"a.txt"}, result.CleanFiles)
	assert.Empty(t, result.Attempts, "no resolution attempts for clean files")

	regionCalls, fileCalls := m.calls()
	assert.Zero(t, regionCalls)
	assert.Zero(t, fileCalls)

	assert.Equal(t, result.MergedCommit, tip(t, repo, "target"))
	content, err := git.NewClient().ShowFile(repo, "target", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\nfive\nsix\nseven\nEIGHT\n", content)
}

func TestMerge_ConflictResolvedAndCommitted(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"a.txt": "alpha\nbeta\ngamma\n"},
		map[string]string{"a.txt": "alpha\nBETA-SRC\ngamma\n"},
		map[string]string{"a.txt": "alpha\nBETA-TGT\ngamma\n"},
	)

	m := &mockResolver{
		regionFn: func(req *resolve.RegionRequest) (string, error) {
			return "BETA-MERGED\n", nil
		},
	}
	o, _ := newOrchestrator(t, repo, m)

	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.Equal(t, models.MergeOutcomeClean, result.Outcome)
	require.Contains(t, result.Resolved, "a.txt")
	assert.Equal(t, models.TierRegionAI, result.Resolved["a.txt"].Tier)

	history := result.Attempts["a.txt"]
	require.Len(t, history, 2)
	assert.Equal(t, models.TierAutoMerge, history[0].Tier)
	assert.Equal(t, models.AttemptRejected, history[0].Outcome)

	content, err := git.NewClient().ShowFile(repo, "target", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha\nBETA-MERGED\ngamma\n", content)
}

func TestMerge_DeleteVsEditNeverResolvedTargetUntouched(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"a.txt": "alpha\n"},
		map[string]string{"other.txt": "o\n"},
		map[string]string{"a.txt": "alpha edited\n"},
	)
	run(t, repo, "git", "checkout", "source")
	run(t, repo, "git", "rm", "a.txt")
	run(t, repo, "git", "commit", "-m", "drop a")
	run(t, repo, "git", "checkout", "main")

	before := tip(t, repo, "target")

	m := &mockResolver{}
	o, _ := newOrchestrator(t, repo, m)

	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.Equal(t, models.MergeOutcomeFailed, result.Outcome)
	assert.Equal(t, string(models.ConflictKindDeleteVsEdit), result.Unresolved["a.txt"])
	assert.Empty(t, result.Attempts["a.txt"])

	regionCalls, fileCalls := m.calls()
	assert.Zero(t, regionCalls)
	assert.Zero(t, fileCalls)

	assert.Equal(t, before, tip(t, repo, "target"), "target must not move")
	assert.Empty(t, result.MergedCommit)

	require.NotEmpty(t, result.StagingDir)
	_, err = os.Stat(filepath.Join(result.StagingDir, "report.yaml"))
	assert.NoError(t, err)
}

func TestMerge_PartialResolutionStagesEverything(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"ok.txt": "a\nb\nc\n", "bad.txt": "x\ny\nz\n"},
		map[string]string{"ok.txt": "a\nB-SRC\nc\n", "bad.txt": "x\nY-SRC\nz\n"},
		map[string]string{"ok.txt": "a\nB-TGT\nc\n", "bad.txt": "x\nY-TGT\nz\n"},
	)

	m := &mockResolver{
		regionFn: func(req *resolve.RegionRequest) (string, error) {
			if req.Path == "ok.txt" {
				return "B-MERGED\n", nil
			}
			// Markers force rejection through every tier.
			return ">>>>>>> theirs\n", nil
		},
		fileFn: func(req *resolve.FileRequest) (string, error) {
			return ">>>>>>> theirs\n", nil
		},
	}
	o, _ := newOrchestrator(t, repo, m)

	before := tip(t, repo, "target")
	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.Equal(t, models.MergeOutcomePartial, result.Outcome)
	assert.Contains(t, result.Resolved, "ok.txt")
	assert.Contains(t, result.Unresolved, "bad.txt")
	assert.Equal(t, before, tip(t, repo, "target"), "partial results never commit")

	// The accepted resolution survives in the staging area.
	staged, err := os.ReadFile(filepath.Join(result.StagingDir, "files", "ok.txt.resolved"))
	require.NoError(t, err)
	assert.Equal(t, "a\nB-MERGED\nc\n", string(staged))

	for _, suffix := range []string{"base", "source", "target"} {
		_, err := os.Stat(filepath.Join(result.StagingDir, "files", "bad.txt."+suffix))
		assert.NoError(t, err, "bad.txt.%s should be staged", suffix)
	}
}

func TestMerge_NothingToMerge(t *testing.T) {
	repo := t.TempDir()
	run(t, repo, "git", "init", "-b", "main")
	run(t, repo, "git", "config", "user.email", "test@test.com")
	run(t, repo, "git", "config", "user.name", "Test")
	writeCommit(t, repo, map[string]string{"a.txt": "alpha\n"}, "base")

	// source stays at the base commit; only target advances.
	run(t, repo, "git", "branch", "source")
	run(t, repo, "git", "checkout", "-b", "target")
	writeCommit(t, repo, map[string]string{"a.txt": "alpha edited\n"}, "target change")
	run(t, repo, "git", "checkout", "main")

	before := tip(t, repo, "target")

	m := &mockResolver{}
	o, _ := newOrchestrator(t, repo, m)

	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.Equal(t, models.MergeOutcomeClean, result.Outcome)
	assert.Equal(t, before, result.MergedCommit)
	assert.Equal(t, before, tip(t, repo, "target"), "no merge commit is created")
}

func TestMerge_LockContention(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"a.txt": "alpha\n"},
		map[string]string{"a.txt": "alpha src\n"},
		map[string]string{"b.txt": "b\n"},
	)

	lockDir := filepath.Join(t.TempDir(), "locks")
	held, err := acquireLock(context.Background(), lockDir, "target", time.Second)
	require.NoError(t, err)
	defer held.release()

	m := &mockResolver{}
	o, _ := newOrchestrator(t, repo, m, WithLockDir(lockDir), WithLockTimeout(200*time.Millisecond))

	_, err = o.Merge(context.Background(), "source", "target")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestMerge_ResultPersisted(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"a.txt": "one\ntwo\nthree\n"},
		map[string]string{"a.txt": "ONE\ntwo\nthree\n"},
		map[string]string{"a.txt": "one\ntwo\nTHREE\n"},
	)

	m := &mockResolver{}
	o, st := newOrchestrator(t, repo, m)

	result, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	stored, err := st.ListMergeResults(context.Background(), "target", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.ID, stored[0].ID)
	assert.Equal(t, models.MergeOutcomeClean, stored[0].Outcome)
}

func TestMerge_ProgressEvents(t *testing.T) {
	repo := branchRepo(t,
		map[string]string{"a.txt": "alpha\nbeta\ngamma\n"},
		map[string]string{"a.txt": "alpha\nBETA-SRC\ngamma\n"},
		map[string]string{"a.txt": "alpha\nBETA-TGT\ngamma\n"},
	)

	m := &mockResolver{
		regionFn: func(*resolve.RegionRequest) (string, error) { return "BETA\n", nil },
	}

	var mu sync.Mutex
	stages := map[string]bool{}
	o, _ := newOrchestrator(t, repo, m, WithProgress(func(stage, detail string) {
		mu.Lock()
		stages[stage] = true
		mu.Unlock()
	}))

	_, err := o.Merge(context.Background(), "source", "target")
	require.NoError(t, err)

	assert.True(t, stages["detect"])
	assert.True(t, stages["resolve"])
	assert.True(t, stages["commit"])
}
