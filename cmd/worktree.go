package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/output"
	"github.com/Holovkat/Auto-Claude/internal/worktree"
)

var (
	worktreeBase         string
	worktreeDeleteBranch bool
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	Short:   "Manage build-session worktrees",
	Long:    "Create, list, and destroy isolated git worktrees for build sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeListRun()
	},
}

var worktreeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live session worktrees",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeListRun()
	},
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Create an isolated worktree for a build session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeCreateRun(args[0])
	},
}

var worktreeDestroyCmd = &cobra.Command{
	Use:     "destroy <session-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a session's worktree",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeDestroyRun(args[0])
	},
}

func init() {
	worktreeCreateCmd.Flags().StringVar(&worktreeBase, "base", "", "Base branch to fork from (default: merge.target_branch)")
	worktreeDestroyCmd.Flags().BoolVar(&worktreeDeleteBranch, "delete-branch", false, "Also delete the session branch")

	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeCreateCmd)
	worktreeCmd.AddCommand(worktreeDestroyCmd)
	rootCmd.AddCommand(worktreeCmd)
}

// newManager wires a worktree manager for the current repository.
func newManager() (*worktree.Manager, error) {
	repo, err := repoRoot()
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return worktree.NewManager(repo, viper.GetString("worktrees_dir"), git.NewClient(), s), nil
}

func worktreeListRun() error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	sessions, err := mgr.ListActive(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No live session worktrees.")
		return nil
	}

	table := ui.Table([]string{"Session", "Branch", "Base", "Status", "Path"})
	for _, ws := range sessions {
		_ = table.Append([]string{
			output.Cyan(ws.SessionID),
			ws.BranchName,
			ws.BaseBranch,
			output.StatusColor(ws.Status),
			ws.RootPath,
		})
	}
	_ = table.Render()
	return nil
}

func worktreeCreateRun(sessionID string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	base := worktreeBase
	if base == "" {
		base = viper.GetString("merge.target_branch")
	}

	if dryRun {
		ui.DryRunMsg("Would create worktree for session %s off %s", sessionID, base)
		return nil
	}

	ui.Info("Creating worktree for session %s off %s...", output.Cyan(sessionID), output.Cyan(base))
	ws, err := mgr.Create(context.Background(), base, sessionID)
	if err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}

	ui.Success("Created %s at %s", output.Cyan(ws.BranchName), ws.RootPath)
	return nil
}

func worktreeDestroyRun(sessionID string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	ws, err := s.GetWorktreeSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if dryRun {
		ui.DryRunMsg("Would remove worktree %s", ws.RootPath)
		return nil
	}

	if err := mgr.Destroy(ctx, ws, worktreeDeleteBranch); err != nil {
		return fmt.Errorf("destroy worktree: %w", err)
	}

	ui.Success("Removed worktree for session %s", output.Cyan(sessionID))
	if !worktreeDeleteBranch {
		ui.Info("Branch %s kept for inspection (use --delete-branch to drop it)", ws.BranchName)
	}
	return nil
}
