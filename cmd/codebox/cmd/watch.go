package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/retoolsx/codebox/internal/autosync"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep a project index in sync with file changes",
		Long: `Watch a project directory and reconcile the index as files change.

Events are debounced and batched; each file update replaces that file's
chunks atomically. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			eng, _, err := newEngine()
			if err != nil {
				printError(err)
				return err
			}
			defer eng.Close()

			cb := autosync.Callbacks{
				FileChanged: func(p string, t autosync.ChangeType) {
					fmt.Printf("%s %s\n", render(styleDim, string(t)), p)
				},
				SyncComplete: func(paths []string, chunks int) {
					fmt.Printf("%s %d files, %d chunks\n",
						render(styleSuccess, "synced"), len(paths), chunks)
				},
				SyncError: func(p, msg string) {
					fmt.Printf("%s %s: %s\n", render(styleError, "sync error"), p, msg)
				},
			}

			worker, err := eng.AutoSyncStart(cmd.Context(), path, cb)
			if err != nil {
				printError(err)
				return err
			}

			fmt.Println(render(styleTitle, "watching ") + path)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-cmd.Context().Done():
			}

			fmt.Println("\nstopping…")
			worker.Stop()
			return nil
		},
	}
	return cmd
}
