package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/logging"
	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/store"
	"github.com/joescharf/qasync/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logCloser io.Closer

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "qasync",
	Short: "Reconcile QA test data between JSON files and the database",
	Long: `qasync keeps the JSON data files and the relational database of a
QA/test-management application consistent. It migrates new records into the
database, applies field-level updates, regenerates the files from the
database, links defect reports to test cases by their ticket codes and
derives test case status from the linked defects.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		telemetry.Shutdown(ctx)
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/qasync/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the JSON data files")
	rootCmd.PersistentFlags().String("database-url", "", "SQLite database path or DSN")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir, err := configDirFunc(); err == nil {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("QASYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every configuration default.
func setDefaults() {
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("database_url", filepath.Join("data", "qasync.db"))
	viper.SetDefault("results_dir", "results")
	viper.SetDefault("match.rules", match.DefaultRuleNames())
	viper.SetDefault("match.duplicate_threshold", match.DefaultDuplicateThreshold)
	viper.SetDefault("sync.fallback_first_available", false)
	viper.SetDefault("sync.prune_relations", false)
	viper.SetDefault("store.retries", 0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.file", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	closer, err := logging.Setup(logging.Options{
		Level:  level,
		Format: viper.GetString("log.format"),
		File:   viper.GetString("log.file"),
	})
	if err != nil {
		ui.Warning("Logging: %v (using defaults)", err)
		closer, _ = logging.Setup(logging.Options{})
	}
	logCloser = closer

	if err := telemetry.Init(os.Stderr); err != nil {
		ui.Warning("Metrics disabled: %v", err)
	}
}

// dataFiles returns the JSON snapshot files under the configured data dir.
func dataFiles() *filestore.Files {
	return filestore.Open(viper.GetString("data_dir"))
}

// openStore opens and migrates the configured database. Callers own the
// returned handle.
func openStore(ctx context.Context) (store.Store, error) {
	dsn := viper.GetString("database_url")
	s, err := store.NewSQLiteStore(dsn, store.WithRetries(viper.GetInt("store.retries")))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// withStore runs fn with a store that is closed on every return path.
func withStore(ctx context.Context, fn func(store.Store) error) (err error) {
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close database: %w", cerr)
		}
	}()
	return fn(s)
}

// resolverFromConfig builds the match resolver from match.rules.
func resolverFromConfig() (*match.Resolver, error) {
	rules, err := match.RulesByName(viper.GetStringSlice("match.rules"))
	if err != nil {
		return nil, fmt.Errorf("match.rules: %w", err)
	}
	return match.NewResolver(rules...), nil
}
