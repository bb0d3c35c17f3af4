package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/store"
	"github.com/Holovkat/Auto-Claude/internal/worktree"
)

// Merger abstracts the merge orchestrator so agents without a
// configured resolver can still use the read-only tools.
type Merger interface {
	Merge(ctx context.Context, sourceBranch, targetBranch string) (*models.MergeResult, error)
}

// Server exposes worktree and merge operations as MCP tools so build
// agents can drive the merge pipeline directly.
type Server struct {
	store   store.Store
	git     git.Client
	manager *worktree.Manager
	tracker *evolution.Tracker
	merger  Merger
}

// NewServer creates the MCP server wrapper. merger may be nil when no
// resolver is configured; the merge tool then reports that instead of
// failing at startup.
func NewServer(s store.Store, gc git.Client, mgr *worktree.Manager, tr *evolution.Tracker, merger Merger) *Server {
	return &Server{
		store:   s,
		git:     gc,
		manager: mgr,
		tracker: tr,
		merger:  merger,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("autoclaude", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createWorktreeTool())
	srv.AddTool(s.listWorktreesTool())
	srv.AddTool(s.destroyWorktreeTool())
	srv.AddTool(s.recordChangeTool())
	srv.AddTool(s.fileHistoryTool())
	srv.AddTool(s.mergeBranchTool())
	srv.AddTool(s.mergeHistoryTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type sessionOut struct {
	SessionID  string `json:"session_id"`
	BranchName string `json:"branch_name"`
	RootPath   string `json:"root_path"`
	BaseBranch string `json:"base_branch"`
	BaseCommit string `json:"base_commit"`
	Status     string `json:"status"`
}

func sessionToOut(ws *models.WorktreeSession) sessionOut {
	return sessionOut{
		SessionID:  ws.SessionID,
		BranchName: ws.BranchName,
		RootPath:   ws.RootPath,
		BaseBranch: ws.BaseBranch,
		BaseCommit: ws.BaseCommit,
		Status:     string(ws.Status),
	}
}

// autoclaude_create_worktree
func (s *Server) createWorktreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_create_worktree",
		mcp.WithDescription("Create an isolated git worktree and branch for a build session. Returns the session record as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Unique build session identifier")),
		mcp.WithString("base_branch", mcp.Description("Branch to fork from (default main)")),
	)
	return tool, s.handleCreateWorktree
}

func (s *Server) handleCreateWorktree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	baseBranch := request.GetString("base_branch", "main")

	ws, err := s.manager.Create(ctx, baseBranch, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create worktree: %v", err)), nil
	}
	data, err := json.Marshal(sessionToOut(ws))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoclaude_list_worktrees
func (s *Server) listWorktreesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_list_worktrees",
		mcp.WithDescription("List live build-session worktrees. Returns a JSON array of sessions."),
	)
	return tool, s.handleListWorktrees
}

func (s *Server) handleListWorktrees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.manager.ListActive(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list worktrees: %v", err)), nil
	}
	out := make([]sessionOut, len(sessions))
	for i, ws := range sessions {
		out[i] = sessionToOut(ws)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoclaude_destroy_worktree
func (s *Server) destroyWorktreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_destroy_worktree",
		mcp.WithDescription("Remove a build session's worktree. The session branch survives unless delete_branch is set."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Build session identifier")),
		mcp.WithBoolean("delete_branch", mcp.Description("Also delete the session branch")),
	)
	return tool, s.handleDestroyWorktree
}

func (s *Server) handleDestroyWorktree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	deleteBranch := request.GetBool("delete_branch", false)

	ws, err := s.store.GetWorktreeSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	if err := s.manager.Destroy(ctx, ws, deleteBranch); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("destroy worktree: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"session_id":%q,"status":"closed"}`, sessionID)), nil
}

// autoclaude_record_change
func (s *Server) recordChangeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_record_change",
		mcp.WithDescription("Record an intent summary for a commit touching a file. These summaries are fed to the conflict resolver as context."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Repository-relative file path")),
		mcp.WithString("commit", mcp.Required(), mcp.Description("Commit hash of the change")),
		mcp.WithString("session_id", mcp.Description("Build session that made the change")),
		mcp.WithString("summary", mcp.Description("One-line intent of the change")),
	)
	return tool, s.handleRecordChange
}

func (s *Server) handleRecordChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	commit, err := request.RequireString("commit")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: commit"), nil
	}
	sessionID := request.GetString("session_id", "")
	summary := request.GetString("summary", "")

	if err := s.tracker.RecordChange(ctx, path, sessionID, commit, summary); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record change: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"recorded":true}`), nil
}

// autoclaude_file_history
func (s *Server) fileHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_file_history",
		mcp.WithDescription("Show how a file evolved between a base commit and a branch tip. Returns a JSON array of entries."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Repository-relative file path")),
		mcp.WithString("since", mcp.Required(), mcp.Description("Base commit (exclusive)")),
		mcp.WithString("tip", mcp.Required(), mcp.Description("Branch or commit to walk up to")),
	)
	return tool, s.handleFileHistory
}

func (s *Server) handleFileHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	since, err := request.RequireString("since")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: since"), nil
	}
	tipRef, err := request.RequireString("tip")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: tip"), nil
	}

	entries, err := s.tracker.History(ctx, path, since, tipRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("file history: %v", err)), nil
	}

	type entryOut struct {
		Commit    string    `json:"commit"`
		SessionID string    `json:"session_id,omitempty"`
		Summary   string    `json:"summary"`
		Timestamp time.Time `json:"timestamp"`
	}
	out := make([]entryOut, len(entries))
	for i, e := range entries {
		out[i] = entryOut{Commit: e.Commit, SessionID: e.SessionID, Summary: e.Summary, Timestamp: e.Timestamp}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoclaude_merge_branch
func (s *Server) mergeBranchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_merge_branch",
		mcp.WithDescription("Merge a session branch into a target branch with tiered conflict resolution. The target either advances atomically or is left untouched with conflicts staged."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Session branch to merge")),
		mcp.WithString("target", mcp.Description("Target branch (default main)")),
	)
	return tool, s.handleMergeBranch
}

func (s *Server) handleMergeBranch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: source"), nil
	}
	target := request.GetString("target", "main")

	if s.merger == nil {
		return mcp.NewToolResultError("merge is not available: no resolver configured (set anthropic.api_key)"), nil
	}

	result, mergeErr := s.merger.Merge(ctx, source, target)
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("merge: %v", mergeErr)), nil
	}

	out := mergeResultOut(result)
	if mergeErr != nil {
		out["error"] = mergeErr.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal merge result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoclaude_merge_history
func (s *Server) mergeHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoclaude_merge_history",
		mcp.WithDescription("List recent merge attempts into a target branch. Returns a JSON array, newest first."),
		mcp.WithString("target", mcp.Description("Target branch filter (default all)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	)
	return tool, s.handleMergeHistory
}

func (s *Server) handleMergeHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := request.GetString("target", "")
	limit := request.GetInt("limit", 20)

	results, err := s.store.ListMergeResults(ctx, target, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("merge history: %v", err)), nil
	}
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = mergeResultOut(r)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal merge history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mergeResultOut flattens a MergeResult for tool output.
func mergeResultOut(r *models.MergeResult) map[string]any {
	resolved := make(map[string]string, len(r.Resolved))
	for path, attempt := range r.Resolved {
		resolved[path] = string(attempt.Tier)
	}
	out := map[string]any{
		"id":            r.ID,
		"source_branch": r.SourceBranch,
		"target_branch": r.TargetBranch,
		"outcome":       string(r.Outcome),
		"merged_commit": r.MergedCommit,
		"clean_files":   r.CleanFiles,
		"resolved":      resolved,
		"unresolved":    r.Unresolved,
	}
	if r.StagingDir != "" {
		out["staging_dir"] = r.StagingDir
	}
	return out
}
