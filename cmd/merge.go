package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Holovkat/Auto-Claude/internal/detect"
	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/merge"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/output"
	"github.com/Holovkat/Auto-Claude/internal/resolve"
	"github.com/Holovkat/Auto-Claude/internal/validate"
)

var mergeTarget string

var mergeCmd = &cobra.Command{
	Use:   "merge <source-branch>",
	Short: "Merge a session branch back into the target branch",
	Long: `Merge a session branch into the target branch with three-way
conflict detection and tiered resolution. The target branch either
advances to a single merge commit or does not move; anything that
could not be resolved lands in the staging directory for review.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mergeRun(cmd.Context(), args[0])
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeTarget, "target", "t", "", "Target branch (default: merge.target_branch)")
	rootCmd.AddCommand(mergeCmd)
}

func mergeRun(ctx context.Context, source string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	repo, err := repoRoot()
	if err != nil {
		return err
	}

	target := mergeTarget
	if target == "" {
		target = viper.GetString("merge.target_branch")
	}

	gc := git.NewClient()
	detector := detect.NewDetector(repo, gc)

	if dryRun {
		return mergeDryRun(ctx, detector, source, target)
	}

	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return errors.New("no Anthropic API key configured (set anthropic.api_key or AUTOCLAUDE_ANTHROPIC_API_KEY)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	client := resolve.NewClient(apiKey, viper.GetString("anthropic.model"))
	tiered := resolve.NewTieredResolver(client, validate.NewValidator(), gc,
		resolve.WithContextLines(viper.GetInt("resolver.context_lines")),
		resolve.WithTimeout(viper.GetDuration("resolver.timeout")),
		resolve.WithMaxRetries(viper.GetInt("resolver.max_retries")),
	)
	tracker := evolution.NewTracker(repo, gc, s)

	orch := merge.NewOrchestrator(repo, gc, s, detector, tiered, tracker,
		merge.WithStagingDir(viper.GetString("staging_dir")),
		merge.WithLockDir(viper.GetString("lock_dir")),
		merge.WithLockTimeout(viper.GetDuration("merge.lock_timeout")),
		merge.WithMaxParallel(viper.GetInt("merge.max_parallel")),
		merge.WithProgress(func(stage, detail string) {
			ui.VerboseLog("%s: %s", stage, detail)
		}),
	)

	ui.Info("Merging %s into %s...", output.Cyan(source), output.Cyan(target))
	result, err := orch.Merge(ctx, source, target)
	if result == nil {
		return err
	}
	printMergeResult(result)
	if err != nil {
		return err
	}
	if result.Outcome != models.MergeOutcomeClean {
		return fmt.Errorf("merge %s: %s", result.ID, result.Outcome)
	}
	return nil
}

// mergeDryRun reports what a merge would encounter without resolving
// or committing anything.
func mergeDryRun(ctx context.Context, detector *detect.Detector, source, target string) error {
	set, err := detector.Detect(ctx, source, target)
	if err != nil {
		return err
	}

	ui.DryRunMsg("Would merge %s into %s", source, target)
	ui.Info("Clean files: %d, conflicting files: %d", len(set.CleanFiles), len(set.Conflicts))
	if len(set.Conflicts) == 0 {
		return nil
	}

	paths := make([]string, 0, len(set.Conflicts))
	for path := range set.Conflicts {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	table := ui.Table([]string{"File", "Kind", "Regions"})
	for _, path := range paths {
		fc := set.Conflicts[path]
		_ = table.Append([]string{path, string(fc.Kind), fmt.Sprintf("%d", len(fc.Regions))})
	}
	return table.Render()
}

func printMergeResult(result *models.MergeResult) {
	ui.Info("Outcome: %s", output.OutcomeColor(result.Outcome))

	if len(result.CleanFiles) > 0 {
		ui.VerboseLog("%d files merged cleanly", len(result.CleanFiles))
	}

	if len(result.Resolved) > 0 {
		paths := make([]string, 0, len(result.Resolved))
		for path := range result.Resolved {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		table := ui.Table([]string{"File", "Tier"})
		for _, path := range paths {
			_ = table.Append([]string{path, output.TierColor(result.Resolved[path].Tier)})
		}
		_ = table.Render()
	}

	if len(result.Unresolved) > 0 {
		paths := make([]string, 0, len(result.Unresolved))
		for path := range result.Unresolved {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			ui.Warning("Unresolved %s: %s", output.Red(path), result.Unresolved[path])
		}
	}

	if result.MergedCommit != "" {
		ui.Success("%s now at %s", output.Cyan(result.TargetBranch), result.MergedCommit)
	}
	if result.StagingDir != "" {
		ui.Info("Merge state staged at %s", result.StagingDir)
	}
}
