package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retoolsx/codebox/internal/index"
)

func newIndexCmd() *cobra.Command {
	var jsonOut bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build the search index for a project",
		Long: `Index a project directory from scratch.

The existing index for the project (if any) is removed first, so the store
always matches the current embedding model and configuration.

Examples:
  codebox index
  codebox index ~/src/myproject
  codebox index --json`,
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

			cb := index.Callbacks{}
			if !quiet && !jsonOut {
				cb.OnProgress = func(current, total int, filename string) {
					if filename != "" {
						fmt.Printf("\r[%d/%d] %s\033[K", current, total, filename)
					}
				}
				cb.OnLog = func(msg string) {
					fmt.Printf("\r%s\033[K\n", msg)
				}
			}

			result, err := eng.Index(cmd.Context(), path, cb)
			if !quiet && !jsonOut {
				fmt.Println()
			}
			if err != nil {
				printError(err)
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			printIndexResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func printIndexResult(r *index.IndexingResult) {
	if r.Success {
		fmt.Println(render(styleSuccess, "✓ indexing complete"))
	} else {
		fmt.Println(render(styleError, "✗ indexing failed: ") + r.Error)
	}

	fmt.Printf("  files:   %d total, %d indexed, %d skipped, %d failed\n",
		r.TotalFiles, r.IndexedFilesCount, r.SkippedFilesCount, r.FailedFilesCount)
	fmt.Printf("  chunks:  %d\n", r.TotalChunks)
	fmt.Printf("  time:    %dms total, %dms embedding\n", r.ProcessingTimeMS, r.EmbeddingTimeMS)

	if len(r.Languages) > 0 {
		fmt.Print("  languages:")
		for lang, count := range r.Languages {
			fmt.Printf(" %s=%d", lang, count)
		}
		fmt.Println()
	}
	for _, f := range r.FailedFiles {
		fmt.Printf("  %s %s (%s): %s\n", render(styleError, "failed:"), f.File, f.Type, f.Message)
	}
}
