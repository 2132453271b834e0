package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/existflow/taskmirror/internal/engine"
	"github.com/existflow/taskmirror/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync [tasks|projects|contacts|time_logs|all]",
	Short: "Pull remote records into the local store",
	Long: `Sync one entity type (or all of them, sequentially) from the remote
workspace into the local store. Ctrl-C requests cooperative cancellation:
the current page finishes, already-synced records stay committed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	types := model.AllEntityTypes
	if args[0] != "all" {
		t := model.EntityType(args[0])
		if !t.Valid() {
			return fmt.Errorf("unknown entity type %q", args[0])
		}
		types = []model.EntityType{t}
	}

	// Ctrl-C cancels the run in flight instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for _, t := range types {
		fmt.Printf("🔄 Syncing %s...\n", t)

		done := make(chan struct{})
		go func(t model.EntityType) {
			select {
			case <-sigCh:
				eng.RequestCancel(t)
			case <-done:
			}
		}(t)

		result, err := eng.RequestSync(context.Background(), t)
		close(done)

		switch {
		case errors.Is(err, engine.ErrCancelled):
			fmt.Printf("⏹  %s cancelled. Synced: %d\n", t, result.Synced)
			return nil
		case err != nil:
			return fmt.Errorf("sync %s failed: %w", t, err)
		}

		fmt.Printf("✅ Synced: %d\n", result.Synced)
		if result.Errors > 0 {
			fmt.Printf("❌ Errors: %d\n", result.Errors)
		}
	}

	return nil
}
