package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Holovkat/Auto-Claude/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from parallel file
	// resolution goroutines recording evolution entries.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Worktree sessions ---

func (s *SQLiteStore) CreateWorktreeSession(ctx context.Context, ws *models.WorktreeSession) error {
	if ws.ID == "" {
		ws.ID = newULID()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	if ws.Status == "" {
		ws.Status = models.WorktreeStatusActive
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO worktree_sessions
		(id, session_id, branch_name, root_path, base_branch, base_commit, status, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.SessionID, ws.BranchName, ws.RootPath, ws.BaseBranch, ws.BaseCommit,
		string(ws.Status), ws.CreatedAt, ws.ClosedAt)
	if err != nil {
		return fmt.Errorf("create worktree session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorktreeSession(ctx context.Context, sessionID string) (*models.WorktreeSession, error) {
	// The live row wins; among closed rows the newest does.
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, branch_name, root_path, base_branch,
		base_commit, status, created_at, closed_at
		FROM worktree_sessions WHERE session_id = ?
		ORDER BY (status = 'closed'), created_at DESC LIMIT 1`, sessionID)
	return scanWorktreeSession(row)
}

func (s *SQLiteStore) ListWorktreeSessions(ctx context.Context, status models.WorktreeStatus) ([]*models.WorktreeSession, error) {
	query := `SELECT id, session_id, branch_name, root_path, base_branch,
		base_commit, status, created_at, closed_at
		FROM worktree_sessions`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list worktree sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.WorktreeSession
	for rows.Next() {
		ws, err := scanWorktreeSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateWorktreeSession(ctx context.Context, ws *models.WorktreeSession) error {
	res, err := s.db.ExecContext(ctx, `UPDATE worktree_sessions
		SET branch_name = ?, root_path = ?, base_branch = ?, base_commit = ?, status = ?, closed_at = ?
		WHERE id = ?`,
		ws.BranchName, ws.RootPath, ws.BaseBranch, ws.BaseCommit, string(ws.Status), ws.ClosedAt, ws.ID)
	if err != nil {
		return fmt.Errorf("update worktree session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worktree session not found: %s", ws.SessionID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorktreeSession(row rowScanner) (*models.WorktreeSession, error) {
	var ws models.WorktreeSession
	var status string
	var closedAt sql.NullTime
	err := row.Scan(&ws.ID, &ws.SessionID, &ws.BranchName, &ws.RootPath, &ws.BaseBranch,
		&ws.BaseCommit, &status, &ws.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	ws.Status = models.WorktreeStatus(status)
	if closedAt.Valid {
		ws.ClosedAt = &closedAt.Time
	}
	return &ws, nil
}

// --- File evolution ---

func (s *SQLiteStore) AppendEvolution(ctx context.Context, e *models.FileEvolutionEntry) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO file_evolution
		(id, path, commit_hash, session_id, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.Commit, e.SessionID, e.Summary, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append evolution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvolution(ctx context.Context, path string) ([]*models.FileEvolutionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, commit_hash, session_id, summary, created_at
		FROM file_evolution WHERE path = ? ORDER BY rowid`, path)
	if err != nil {
		return nil, fmt.Errorf("list evolution: %w", err)
	}
	defer rows.Close()

	var entries []*models.FileEvolutionEntry
	for rows.Next() {
		var e models.FileEvolutionEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Commit, &e.SessionID, &e.Summary, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Merge reports ---

// mergeDetail is the JSON-encoded per-file payload of a merge result.
type mergeDetail struct {
	CleanFiles []string                              `json:"clean_files,omitempty"`
	Resolved   map[string]*models.ResolutionAttempt  `json:"resolved,omitempty"`
	Attempts   map[string][]models.ResolutionAttempt `json:"attempts,omitempty"`
	Unresolved map[string]string                     `json:"unresolved,omitempty"`
}

func (s *SQLiteStore) CreateMergeResult(ctx context.Context, r *models.MergeResult) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	detail, err := json.Marshal(mergeDetail{
		CleanFiles: r.CleanFiles,
		Resolved:   r.Resolved,
		Attempts:   r.Attempts,
		Unresolved: r.Unresolved,
	})
	if err != nil {
		return fmt.Errorf("marshal merge detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO merge_results
		(id, source_branch, target_branch, base_commit, source_commit, target_commit,
		 outcome, merged_commit, staging_dir, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceBranch, r.TargetBranch, r.BaseCommit, r.SourceCommit, r.TargetCommit,
		string(r.Outcome), r.MergedCommit, r.StagingDir, string(detail), r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("create merge result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMergeResults(ctx context.Context, targetBranch string, limit int) ([]*models.MergeResult, error) {
	query := `SELECT id, source_branch, target_branch, base_commit, source_commit, target_commit,
		outcome, merged_commit, staging_dir, detail, started_at, finished_at
		FROM merge_results`
	args := []any{}
	if targetBranch != "" {
		query += " WHERE target_branch = ?"
		args = append(args, targetBranch)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list merge results: %w", err)
	}
	defer rows.Close()

	var results []*models.MergeResult
	for rows.Next() {
		var r models.MergeResult
		var outcome, detail string
		if err := rows.Scan(&r.ID, &r.SourceBranch, &r.TargetBranch, &r.BaseCommit, &r.SourceCommit,
			&r.TargetCommit, &outcome, &r.MergedCommit, &r.StagingDir, &detail,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Outcome = models.MergeOutcome(outcome)
		var d mergeDetail
		if err := json.Unmarshal([]byte(detail), &d); err == nil {
			r.CleanFiles = d.CleanFiles
			r.Resolved = d.Resolved
			r.Attempts = d.Attempts
			r.Unresolved = d.Unresolved
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
