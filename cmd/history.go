package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/output"
)

var (
	historySince string
	historyTip   string

	mergesTarget string
	mergesLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Show the recorded evolution of a file",
	Long: `Show which commits and sessions changed a file. Entries recorded
by sessions carry their session ID and summary; other commits fall
back to the commit subject.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context(), args[0])
	},
}

var mergesCmd = &cobra.Command{
	Use:   "merges",
	Short: "List past merge results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mergesRun(cmd.Context())
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySince, "since", "", "Exclude commits reachable from this ref")
	historyCmd.Flags().StringVar(&historyTip, "tip", "", "Ref whose history to walk (default: merge.target_branch)")

	mergesCmd.Flags().StringVarP(&mergesTarget, "target", "t", "", "Only merges into this branch (default: merge.target_branch)")
	mergesCmd.Flags().IntVar(&mergesLimit, "limit", 20, "Maximum number of results")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mergesCmd)
}

func historyRun(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	repo, err := repoRoot()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	tip := historyTip
	if tip == "" {
		tip = viper.GetString("merge.target_branch")
	}

	tracker := evolution.NewTracker(repo, git.NewClient(), s)
	entries, err := tracker.History(ctx, path, historySince, tip)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No history for %s", path)
		return nil
	}

	table := ui.Table([]string{"Commit", "Session", "Summary"})
	for _, e := range entries {
		short := e.Commit
		if len(short) > 8 {
			short = short[:8]
		}
		session := e.SessionID
		if session == "" {
			session = "-"
		}
		_ = table.Append([]string{output.Cyan(short), session, e.Summary})
	}
	return table.Render()
}

func mergesRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	target := mergesTarget
	if target == "" {
		target = viper.GetString("merge.target_branch")
	}

	results, err := s.ListMergeResults(ctx, target, mergesLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		ui.Info("No merges into %s recorded.", target)
		return nil
	}

	table := ui.Table([]string{"ID", "Source", "Outcome", "Resolved", "Unresolved", "Finished"})
	for _, r := range results {
		_ = table.Append([]string{
			r.ID,
			output.Cyan(r.SourceBranch),
			output.OutcomeColor(r.Outcome),
			fmt.Sprintf("%d", len(r.Resolved)),
			fmt.Sprintf("%d", len(r.Unresolved)),
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}
