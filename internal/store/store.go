package store

import (
	"context"

	"github.com/Holovkat/Auto-Claude/internal/models"
)

// Store defines the persistence interface for autoclaude: worktree
// session records, per-file evolution history, and merge reports.
type Store interface {
	// Worktree sessions
	CreateWorktreeSession(ctx context.Context, s *models.WorktreeSession) error
	GetWorktreeSession(ctx context.Context, sessionID string) (*models.WorktreeSession, error)
	ListWorktreeSessions(ctx context.Context, status models.WorktreeStatus) ([]*models.WorktreeSession, error)
	UpdateWorktreeSession(ctx context.Context, s *models.WorktreeSession) error

	// File evolution (append-only)
	AppendEvolution(ctx context.Context, e *models.FileEvolutionEntry) error
	ListEvolution(ctx context.Context, path string) ([]*models.FileEvolutionEntry, error)

	// Merge reports
	CreateMergeResult(ctx context.Context, r *models.MergeResult) error
	ListMergeResults(ctx context.Context, targetBranch string, limit int) ([]*models.MergeResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
