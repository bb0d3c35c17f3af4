package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Holovkat/Auto-Claude/internal/detect"
	"github.com/Holovkat/Auto-Claude/internal/evolution"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/mcp"
	"github.com/Holovkat/Auto-Claude/internal/merge"
	"github.com/Holovkat/Auto-Claude/internal/resolve"
	"github.com/Holovkat/Auto-Claude/internal/validate"
	"github.com/Holovkat/Auto-Claude/internal/worktree"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Expose worktree management, change tracking, and merging as MCP
tools over stdio, for build sessions that coordinate through an MCP
client. Merging requires an Anthropic API key; without one the merge
tool reports itself unavailable and everything else still works.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	repo, err := repoRoot()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	gc := git.NewClient()
	mgr := worktree.NewManager(repo, viper.GetString("worktrees_dir"), gc, s)
	tracker := evolution.NewTracker(repo, gc, s)

	var merger mcp.Merger
	if apiKey := viper.GetString("anthropic.api_key"); apiKey != "" {
		client := resolve.NewClient(apiKey, viper.GetString("anthropic.model"))
		tiered := resolve.NewTieredResolver(client, validate.NewValidator(), gc,
			resolve.WithContextLines(viper.GetInt("resolver.context_lines")),
			resolve.WithTimeout(viper.GetDuration("resolver.timeout")),
			resolve.WithMaxRetries(viper.GetInt("resolver.max_retries")),
		)
		merger = merge.NewOrchestrator(repo, gc, s, detect.NewDetector(repo, gc), tiered, tracker,
			merge.WithStagingDir(viper.GetString("staging_dir")),
			merge.WithLockDir(viper.GetString("lock_dir")),
			merge.WithLockTimeout(viper.GetDuration("merge.lock_timeout")),
			merge.WithMaxParallel(viper.GetInt("merge.max_parallel")),
		)
	}

	srv := mcp.NewServer(s, gc, mgr, tracker, merger)
	ui.VerboseLog("MCP server listening on stdio for %s", repo)
	return srv.ServeStdio(cmd.Context())
}
