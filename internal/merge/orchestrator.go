package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Holovkat/Auto-Claude/internal/detect"
	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/resolve"
	"github.com/Holovkat/Auto-Claude/internal/store"
)

const (
	defaultLockTimeout = 30 * time.Second
	defaultMaxParallel = 4
)

// ProgressFunc receives merge milestones for display. stage is one of
// detect, resolve, commit, staged.
type ProgressFunc func(stage, detail string)

// Orchestrator drives a full merge attempt: lock the target branch,
// detect conflicts, resolve them in parallel, and either commit the
// whole merge or stage everything for human follow-up. The target
// branch is never left in an intermediate state.
type Orchestrator struct {
	repoPath    string
	git         git.Client
	store       store.Store
	detector    *detect.Detector
	resolver    *resolve.TieredResolver
	tracker     *evolution.Tracker
	stagingDir  string
	lockDir     string
	lockTimeout time.Duration
	maxParallel int
	progress    ProgressFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStagingDir sets where failed merges are materialized.
func WithStagingDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) {
		if dir != "" {
			o.stagingDir = dir
		}
	}
}

// WithLockDir sets where per-branch lock files live.
func WithLockDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) {
		if dir != "" {
			o.lockDir = dir
		}
	}
}

// WithLockTimeout bounds the wait for the target branch lock.
func WithLockTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithMaxParallel caps concurrent per-file resolutions.
func WithMaxParallel(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// NewOrchestrator wires a merge orchestrator for the repository at
// repoPath. The staging and lock directories default to siblings of
// the repository.
func NewOrchestrator(repoPath string, gc git.Client, st store.Store, det *detect.Detector, res *resolve.TieredResolver, tr *evolution.Tracker, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repoPath:    repoPath,
		git:         gc,
		store:       st,
		detector:    det,
		resolver:    res,
		tracker:     tr,
		stagingDir:  repoPath + ".staging",
		lockDir:     repoPath + ".locks",
		lockTimeout: defaultLockTimeout,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) emit(stage, detail string) {
	if o.progress != nil {
		o.progress(stage, detail)
	}
}

// Merge merges sourceBranch into targetBranch. The target branch
// either advances to a single merge commit containing every clean and
// resolved file, or does not move at all; partial work lands in the
// staging directory. The returned MergeResult is also persisted.
func (o *Orchestrator) Merge(ctx context.Context, sourceBranch, targetBranch string) (*models.MergeResult, error) {
	lock, err := acquireLock(ctx, o.lockDir, targetBranch, o.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	o.emit("detect", fmt.Sprintf("%s into %s", sourceBranch, targetBranch))
	set, err := o.detector.Detect(ctx, sourceBranch, targetBranch)
	if err != nil {
		return nil, err
	}

	result := &models.MergeResult{
		ID:           ulid.Make().String(),
		SourceBranch: sourceBranch,
		TargetBranch: targetBranch,
		BaseCommit:   set.BaseCommit,
		SourceCommit: set.SourceCommit,
		TargetCommit: set.TargetCommit,
		CleanFiles:   set.CleanFiles,
		Resolved:     make(map[string]*models.ResolutionAttempt),
		Attempts:     make(map[string][]models.ResolutionAttempt),
		Unresolved:   make(map[string]string),
		StartedAt:    time.Now().UTC(),
	}

	// Source fully contained in target: nothing to do.
	if set.SourceCommit == set.BaseCommit {
		result.Outcome = models.MergeOutcomeClean
		result.MergedCommit = set.TargetCommit
		return o.finish(ctx, result)
	}

	if err := o.resolveAll(ctx, set, result); err != nil {
		return nil, err
	}

	if len(result.Unresolved) == 0 {
		o.emit("commit", targetBranch)
		if err := o.commitMerge(ctx, set, result); err != nil {
			result.Outcome = models.MergeOutcomeFailed
			o.stage(set, result)
			if _, persistErr := o.finish(ctx, result); persistErr != nil {
				return result, fmt.Errorf("commit merge: %w (also: %v)", err, persistErr)
			}
			return result, fmt.Errorf("commit merge: %w", err)
		}
		result.Outcome = models.MergeOutcomeClean
		return o.finish(ctx, result)
	}

	if len(result.Resolved) > 0 {
		result.Outcome = models.MergeOutcomePartial
	} else {
		result.Outcome = models.MergeOutcomeFailed
	}
	o.stage(set, result)
	return o.finish(ctx, result)
}

// resolveAll runs tiered resolution for every conflicting file, capped
// at maxParallel in flight. Binary and delete-versus-edit conflicts go
// straight to unresolved.
func (o *Orchestrator) resolveAll(ctx context.Context, set *models.ConflictSet, result *models.MergeResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)

	for path, fc := range set.Conflicts {
		path, fc := path, fc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o.emit("resolve", path)

			if fc.Kind != models.ConflictKindContent {
				mu.Lock()
				result.Unresolved[path] = string(fc.Kind)
				mu.Unlock()
				return nil
			}

			evo := o.evolutionContext(gctx, path, set)
			accepted, history := o.resolver.Resolve(gctx, fc, evo)

			mu.Lock()
			defer mu.Unlock()
			result.Attempts[path] = history
			if accepted != nil {
				result.Resolved[path] = accepted
				return nil
			}
			reason := "no tier produced a valid resolution"
			if len(history) > 0 {
				reason = history[len(history)-1].Reason
			}
			result.Unresolved[path] = reason
			return nil
		})
	}
	return g.Wait()
}

// evolutionContext builds the change-history prompt block for a file.
// History failures degrade to no context rather than failing the merge.
func (o *Orchestrator) evolutionContext(ctx context.Context, path string, set *models.ConflictSet) string {
	if o.tracker == nil {
		return ""
	}
	entries, err := o.tracker.History(ctx, path, set.BaseCommit, set.SourceCommit)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return evolution.Summarize(path, entries)
}

// commitMerge applies the merge in a throwaway detached worktree and
// advances the target branch with a compare-and-swap. Any failure
// leaves the branch untouched.
func (o *Orchestrator) commitMerge(ctx context.Context, set *models.ConflictSet, result *models.MergeResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parent, err := os.MkdirTemp("", "autoclaude-wt-")
	if err != nil {
		return fmt.Errorf("create merge worktree dir: %w", err)
	}
	wt := filepath.Join(parent, "wt")
	defer func() {
		_ = o.git.WorktreeRemove(o.repoPath, wt, true)
		_ = o.git.WorktreePrune(o.repoPath)
		_ = os.RemoveAll(parent)
	}()

	if err := o.git.WorktreeAddDetached(o.repoPath, wt, set.TargetCommit); err != nil {
		return err
	}
	if _, err := o.git.MergeNoCommit(wt, set.SourceCommit); err != nil {
		return err
	}

	paths := make([]string, 0, len(result.Resolved))
	for path := range result.Resolved {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		full := filepath.Join(wt, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("prepare %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(result.Resolved[path].ResultText), 0644); err != nil {
			return fmt.Errorf("write resolved %s: %w", path, err)
		}
	}
	if len(paths) > 0 {
		if err := o.git.Add(wt, paths...); err != nil {
			return err
		}
	}

	msg := fmt.Sprintf("Merge %s into %s", result.SourceBranch, result.TargetBranch)
	merged, err := o.git.Commit(wt, msg)
	if err != nil {
		return err
	}

	// The lock makes a concurrent move of the target unlikely, but the
	// compare-and-swap catches pushes from outside this process.
	if err := o.git.UpdateRef(o.repoPath, "refs/heads/"+result.TargetBranch, merged, set.TargetCommit); err != nil {
		return fmt.Errorf("advance %s: %w", result.TargetBranch, err)
	}
	result.MergedCommit = merged
	return nil
}

// stage materializes the merge state for human follow-up. Staging
// failures are reported through the result rather than masking the
// merge outcome.
func (o *Orchestrator) stage(set *models.ConflictSet, result *models.MergeResult) {
	dir, err := writeStaging(o.stagingDir, set, result)
	if err != nil {
		o.emit("staged", fmt.Sprintf("staging failed: %v", err))
		return
	}
	result.StagingDir = dir
	o.emit("staged", dir)
}

// finish stamps and persists the result.
func (o *Orchestrator) finish(ctx context.Context, result *models.MergeResult) (*models.MergeResult, error) {
	result.FinishedAt = time.Now().UTC()
	if err := o.store.CreateMergeResult(ctx, result); err != nil {
		return result, fmt.Errorf("persist merge result: %w", err)
	}
	return result, nil
}
