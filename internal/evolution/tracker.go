package evolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/store"
)

// Tracker records which sessions touched which files and serves that
// history back as context for conflict resolution. Records are
// append-only; resolvers only ever read them.
type Tracker struct {
	repoPath string
	git      git.Client
	store    store.Store
}

// NewTracker creates a tracker for the repository at repoPath.
func NewTracker(repoPath string, gc git.Client, st store.Store) *Tracker {
	return &Tracker{repoPath: repoPath, git: gc, store: st}
}

// RecordChange appends one evolution entry for path.
func (t *Tracker) RecordChange(ctx context.Context, path, sessionID, commit, summary string) error {
	if path == "" || commit == "" {
		return fmt.Errorf("evolution entry needs a path and a commit")
	}
	return t.store.AppendEvolution(ctx, &models.FileEvolutionEntry{
		Path:      path,
		Commit:    commit,
		SessionID: sessionID,
		Summary:   summary,
	})
}

// History returns the evolution of path between sinceCommit (exclusive)
// and tipRef, in commit order. Commit ordering always comes from the
// repository log; recorded entries contribute session IDs and summaries
// where they exist, and commits nobody recorded fall back to the commit
// subject so resolvers still get usable context.
func (t *Tracker) History(ctx context.Context, path, sinceCommit, tipRef string) ([]*models.FileEvolutionEntry, error) {
	commits, err := t.git.LogFile(t.repoPath, sinceCommit, tipRef, path)
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", path, err)
	}
	if len(commits) == 0 {
		return nil, nil
	}

	recorded, err := t.store.ListEvolution(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list evolution for %s: %w", path, err)
	}
	byCommit := make(map[string]*models.FileEvolutionEntry, len(recorded))
	for _, e := range recorded {
		byCommit[e.Commit] = e
	}

	entries := make([]*models.FileEvolutionEntry, 0, len(commits))
	for _, c := range commits {
		if e, ok := byCommit[c.Hash]; ok {
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &models.FileEvolutionEntry{
			Path:      path,
			Commit:    c.Hash,
			Summary:   c.Subject,
			Timestamp: c.Date,
		})
	}
	return entries, nil
}

// Summarize renders evolution entries as a compact context block for
// resolver prompts.
func Summarize(path string, entries []*models.FileEvolutionEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent changes to %s since the common ancestor:\n", path)
	for _, e := range entries {
		short := e.Commit
		if len(short) > 8 {
			short = short[:8]
		}
		if e.SessionID != "" {
			fmt.Fprintf(&sb, "- %s (session %s): %s\n", short, e.SessionID, e.Summary)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", short, e.Summary)
		}
	}
	return sb.String()
}
