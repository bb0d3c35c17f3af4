package models

import "time"

// FileEvolutionEntry is one recorded change to a file: which session
// touched it, in which commit, and a short human-readable summary of
// why. Entries are append-only and ordered by commit position.
type FileEvolutionEntry struct {
	ID        string
	Path      string
	Commit    string
	SessionID string
	Summary   string
	Timestamp time.Time
}
