package models

import "time"

// WorktreeStatus represents the lifecycle state of a worktree session.
type WorktreeStatus string

const (
	WorktreeStatusActive  WorktreeStatus = "active"
	WorktreeStatusMerging WorktreeStatus = "merging"
	WorktreeStatusClosed  WorktreeStatus = "closed"
)

// WorktreeSession is an isolated checkout bound to one build session.
// The session exclusively owns its directory and branch; both are
// derived deterministically from the session ID.
type WorktreeSession struct {
	ID         string
	SessionID  string
	BranchName string
	RootPath   string
	BaseBranch string
	BaseCommit string
	Status     WorktreeStatus
	CreatedAt  time.Time
	ClosedAt   *time.Time
}
