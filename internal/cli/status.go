package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/taskmirror/internal/model"
	"github.com/existflow/taskmirror/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last-sync times and local record counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.OpenDefault()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	for _, t := range model.AllEntityTypes {
		count, err := st.Count(ctx, t)
		if err != nil {
			return err
		}

		lastSync := "never"
		if entry, err := st.GetSyncState(ctx, string(t)); err == nil && entry != nil {
			lastSync = entry.Value
		}

		col := cfg.CollectionFor(string(t))
		configured := "✓"
		if col.ID == "" {
			configured = "✗ no collection id"
		}

		fmt.Printf("%-10s records: %-5d last sync: %-22s %s\n", t, count, lastSync, configured)
	}

	return nil
}
