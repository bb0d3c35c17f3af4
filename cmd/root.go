package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/output"
	"github.com/Holovkat/Auto-Claude/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose  bool
	dryRun   bool
	repoFlag string

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "autoclaude",
	Short: "Merge coordinator for parallel AI build sessions",
	Long: `autoclaude lets multiple autonomous build sessions work on one git
repository in parallel. Each session gets an isolated worktree and
branch; when a session finishes, autoclaude merges it back with
three-way conflict detection and tiered, AI-assisted resolution.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository path (default: enclosing repository of cwd)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/autoclaude/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "autoclaude")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUTOCLAUDE")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "autoclaude")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "autoclaude.db"))
	viper.SetDefault("worktrees_dir", "")
	viper.SetDefault("staging_dir", "")
	viper.SetDefault("lock_dir", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("merge.target_branch", "main")
	viper.SetDefault("merge.lock_timeout", 30*time.Second)
	viper.SetDefault("merge.max_parallel", 4)
	viper.SetDefault("resolver.timeout", 90*time.Second)
	viper.SetDefault("resolver.max_retries", 1)
	viper.SetDefault("resolver.context_lines", 3)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version commands run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// repoRoot resolves the repository this invocation operates on: the
// --repo flag when given, otherwise the repository enclosing cwd.
func repoRoot() (string, error) {
	if repoFlag != "" {
		abs, err := filepath.Abs(repoFlag)
		if err != nil {
			return "", err
		}
		return git.NewClient().RepoRoot(abs)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := git.NewClient().RepoRoot(cwd)
	if err != nil {
		return "", fmt.Errorf("not inside a git repository (use --repo): %w", err)
	}
	return root, nil
}
