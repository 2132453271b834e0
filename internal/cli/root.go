package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/existflow/taskmirror/internal/config"
	"github.com/existflow/taskmirror/internal/engine"
	"github.com/existflow/taskmirror/internal/logger"
	"github.com/existflow/taskmirror/internal/remote"
	"github.com/existflow/taskmirror/internal/store"
)

var (
	logLevel   string
	logFile    string
	logConsole bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "taskmirror",
	Short: "TaskMirror - mirror workspace records into a local store",
	Long: `TaskMirror pulls tasks, projects, contacts and time logs from a remote
workspace API into a local SQLite store, so offline-capable UIs can read and
mutate the data quickly while staying eventually consistent with the remote
source of truth.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
		}

		// Override with CLI flags if provided
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = logFile
		}
		if cmd.Flags().Changed("log-console") {
			cfg.LogConsole = logConsole
		}

		logConfig := logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			FilePath:   cfg.LogFile,
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxAge:     7,
			MaxBackups: 5,
			Console:    cfg.LogConsole,
		}

		if err := logger.Init(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger.Info("TaskMirror started", logger.F("command", cmd.Name()))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Info("TaskMirror exiting", logger.F("command", cmd.Name()))
		logger.Close()
	},
}

// openEngine opens the local store and wires a SyncEngine over it. The
// returned cleanup closes the store.
func openEngine() (*engine.SyncEngine, func(), error) {
	st, err := store.OpenDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	client := remote.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.APIVersion)
	policy := remote.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxRetries
	fetcher := remote.NewFetcher(client, time.Duration(cfg.PageDelayMs)*time.Millisecond, policy)

	eng := engine.New(cfg, st, fetcher)
	cleanup := func() {
		_ = st.Close()
	}
	return eng, cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "log-console", false, "Enable console logging")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}
