package models

import "time"

// Tier identifies one strategy level in the escalating resolution
// pipeline.
type Tier string

const (
	TierAutoMerge  Tier = "auto-merge"
	TierRegionAI   Tier = "region-ai"
	TierFullFileAI Tier = "full-file-ai"
)

// AttemptOutcome is the terminal state of one resolution attempt.
type AttemptOutcome string

const (
	AttemptAccepted AttemptOutcome = "accepted"
	AttemptRejected AttemptOutcome = "rejected"
	AttemptError    AttemptOutcome = "error"
)

// ResolutionAttempt records one tier's effort to resolve a file.
// Attempts are append-only per file.
type ResolutionAttempt struct {
	Tier       Tier
	ResultText string
	Outcome    AttemptOutcome
	Reason     string
}

// MergeOutcome is the overall result of a merge attempt.
type MergeOutcome string

const (
	MergeOutcomeClean   MergeOutcome = "clean"
	MergeOutcomePartial MergeOutcome = "partially-resolved"
	MergeOutcomeFailed  MergeOutcome = "failed"
)

// MergeResult is the terminal record for one merge attempt. Outcome is
// clean iff Unresolved is empty and every conflicting file has an
// accepted attempt in Resolved.
type MergeResult struct {
	ID           string
	SourceBranch string
	TargetBranch string
	BaseCommit   string
	SourceCommit string
	TargetCommit string

	CleanFiles []string

	// Resolved maps each conflicting file to its accepted attempt.
	Resolved map[string]*ResolutionAttempt

	// Attempts holds the full append-only attempt history per file,
	// including rejected and errored tiers.
	Attempts map[string][]ResolutionAttempt

	// Unresolved maps each file that exhausted all tiers (or was never
	// eligible) to its last rejection reason.
	Unresolved map[string]string

	MergedCommit string
	Outcome      MergeOutcome
	StagingDir   string
	StartedAt    time.Time
	FinishedAt   time.Time
}
