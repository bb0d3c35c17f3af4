package worktree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/store"
)

var (
	// ErrAlreadyExists is returned when a live worktree already exists
	// for the requested session.
	ErrAlreadyExists = errors.New("worktree already exists for session")

	// ErrBaseBranchMissing is returned when the base ref does not
	// resolve to a commit.
	ErrBaseBranchMissing = errors.New("base branch does not resolve")
)

// Manager creates and destroys isolated worktrees for build sessions.
// It owns no merge logic; each session gets its own directory and
// branch, both derived deterministically from the session ID.
type Manager struct {
	repoPath     string
	worktreesDir string
	git          git.Client
	store        store.Store
}

// NewManager creates a worktree manager for the repository at repoPath.
// If worktreesDir is empty the conventional sibling directory
// "<repo>.worktrees" is used.
func NewManager(repoPath, worktreesDir string, gc git.Client, st store.Store) *Manager {
	if worktreesDir == "" {
		worktreesDir = repoPath + ".worktrees"
	}
	return &Manager{
		repoPath:     repoPath,
		worktreesDir: worktreesDir,
		git:          gc,
		store:        st,
	}
}

// SessionBranch returns the deterministic branch name for a session.
func SessionBranch(sessionID string) string {
	return "autoclaude/" + sanitize(sessionID)
}

// SessionPath returns the deterministic worktree path for a session.
func (m *Manager) SessionPath(sessionID string) string {
	return filepath.Join(m.worktreesDir, sanitize(sessionID))
}

// sanitize maps a session ID onto a string safe for branch names and
// directory names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}

// Create makes an isolated worktree for sessionID branched off
// baseBranch. It fails with ErrAlreadyExists if a live worktree for the
// session exists and ErrBaseBranchMissing if the base ref does not
// resolve.
func (m *Manager) Create(ctx context.Context, baseBranch, sessionID string) (*models.WorktreeSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}

	if existing, err := m.store.GetWorktreeSession(ctx, sessionID); err == nil {
		if existing.Status != models.WorktreeStatusClosed {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyExists)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up session %s: %w", sessionID, err)
	}

	wtPath := m.SessionPath(sessionID)
	if _, err := os.Stat(wtPath); err == nil {
		return nil, fmt.Errorf("directory %s: %w", wtPath, ErrAlreadyExists)
	}

	baseCommit, err := m.git.RevParse(m.repoPath, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBaseBranchMissing, baseBranch)
	}

	branch := SessionBranch(sessionID)
	if err := m.git.WorktreeAdd(m.repoPath, wtPath, branch, baseBranch, true); err != nil {
		return nil, fmt.Errorf("create worktree for session %s: %w", sessionID, err)
	}

	session := &models.WorktreeSession{
		SessionID:  sessionID,
		BranchName: branch,
		RootPath:   wtPath,
		BaseBranch: baseBranch,
		BaseCommit: baseCommit,
		Status:     models.WorktreeStatusActive,
	}
	if err := m.store.CreateWorktreeSession(ctx, session); err != nil {
		// Roll back the filesystem side so a retry can succeed.
		_ = m.git.WorktreeRemove(m.repoPath, wtPath, true)
		_ = m.git.BranchDelete(m.repoPath, branch, true)
		return nil, fmt.Errorf("record session %s: %w", sessionID, err)
	}

	return session, nil
}

// Destroy removes a session's worktree from the filesystem. The branch
// is left intact for inspection unless deleteBranch is set.
func (m *Manager) Destroy(ctx context.Context, session *models.WorktreeSession, deleteBranch bool) error {
	if err := m.git.WorktreeRemove(m.repoPath, session.RootPath, true); err != nil {
		// The directory may already be gone; prune and continue.
		if _, statErr := os.Stat(session.RootPath); statErr == nil {
			return fmt.Errorf("remove worktree %s: %w", session.RootPath, err)
		}
	}
	_ = m.git.WorktreePrune(m.repoPath)

	if deleteBranch {
		if err := m.git.BranchDelete(m.repoPath, session.BranchName, true); err != nil {
			return fmt.Errorf("delete branch %s: %w", session.BranchName, err)
		}
	}

	now := time.Now().UTC()
	session.Status = models.WorktreeStatusClosed
	session.ClosedAt = &now
	if err := m.store.UpdateWorktreeSession(ctx, session); err != nil {
		return fmt.Errorf("close session %s: %w", session.SessionID, err)
	}
	return nil
}

// ListActive returns all live (active or merging) worktree sessions.
func (m *Manager) ListActive(ctx context.Context) ([]*models.WorktreeSession, error) {
	all, err := m.store.ListWorktreeSessions(ctx, "")
	if err != nil {
		return nil, err
	}
	var live []*models.WorktreeSession
	for _, s := range all {
		if s.Status == models.WorktreeStatusActive || s.Status == models.WorktreeStatusMerging {
			live = append(live, s)
		}
	}
	return live, nil
}
