package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats [path]",
		Short: "Show index statistics for a project",
		Args:  cobra.MaximumNArgs(1),
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

			report, err := eng.Stats(path)
			if err != nil {
				printError(err)
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Println(render(styleTitle, report.Project.Name))
			fmt.Printf("  path:       %s\n", report.Project.Path)
			if report.Project.IndexedAt != nil {
				fmt.Printf("  indexed at: %s\n", *report.Project.IndexedAt)
			}
			fmt.Printf("  model:      %s (%s, dim %d)\n",
				report.Model.ID, report.Model.FullName, report.Model.Dim)
			fmt.Printf("  chunks:     %d (%.2f MB on disk)\n",
				report.Database.TotalChunks, report.Database.SizeMB)
			if len(report.Database.Languages) > 0 {
				fmt.Print("  languages: ")
				for lang, count := range report.Database.Languages {
					fmt.Printf(" %s=%d", lang, count)
				}
				fmt.Println()
			}
			if len(report.Database.ChunkTypes) > 0 {
				fmt.Print("  chunk types:")
				for t, count := range report.Database.ChunkTypes {
					fmt.Printf(" %s=%d", t, count)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print stats as JSON")
	return cmd
}
