package models

// ConflictKind classifies why a file could not be merged cleanly.
type ConflictKind string

const (
	// ConflictKindContent is an ordinary overlapping-edit conflict,
	// eligible for tiered resolution.
	ConflictKindContent ConflictKind = "content"

	// ConflictKindBinary marks a binary file changed on both sides.
	// Never sent to a resolver.
	ConflictKindBinary ConflictKind = "binary-conflict"

	// ConflictKindDeleteVsEdit marks a file deleted on one side and
	// edited on the other. Deletion intent is never inferred, so these
	// are escalated without any resolution attempt.
	ConflictKindDeleteVsEdit ConflictKind = "delete-vs-edit"
)

// ConflictRegion is a single overlapping-change span within a file.
// Line ranges are 0-based, half-open [Start, End) into the respective
// version's lines. Regions in a file are ordered by base position and
// never overlap each other.
type ConflictRegion struct {
	BaseStart   int
	BaseEnd     int
	SourceStart int
	SourceEnd   int
	TargetStart int
	TargetEnd   int
	BaseText    string
	SourceText  string
	TargetText  string
}

// FileConflict holds everything needed to resolve one conflicting file
// in isolation: the three full versions plus the overlapping regions.
type FileConflict struct {
	Path       string
	Kind       ConflictKind
	Regions    []ConflictRegion
	BaseText   string
	SourceText string
	TargetText string
}

// ConflictSet is the immutable output of conflict detection for one
// merge attempt. It is recomputed whenever either branch tip moves.
type ConflictSet struct {
	SourceBranch string
	TargetBranch string
	BaseCommit   string
	SourceCommit string
	TargetCommit string
	CleanFiles   []string
	Conflicts    map[string]*FileConflict
}
