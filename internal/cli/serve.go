package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/taskmirror/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local status/control HTTP server",
	Long: `Serve a small HTTP API over the sync engine so a desktop UI can
trigger syncs, request cancellation and observe job status.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(eng)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ServePort)
	fmt.Printf("TaskMirror status server listening on %s\n", addr)
	return srv.Start(addr)
}
