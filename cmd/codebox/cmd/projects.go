package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newProjectsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List all indexed projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := newEngine()
			if err != nil {
				printError(err)
				return err
			}
			defer eng.Close()

			projects := eng.ListProjects()
			sort.Slice(projects, func(i, j int) bool {
				return projects[i].Name < projects[j].Name
			})

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(projects)
			}

			if len(projects) == 0 {
				fmt.Println(render(styleDim, "no indexed projects"))
				return nil
			}
			for _, p := range projects {
				indexed := "never"
				if p.IndexedAt != nil {
					indexed = *p.IndexedAt
				}
				fmt.Printf("%s\n  %s\n  %s chunks=%d files=%d\n",
					render(styleTitle, p.Name),
					render(stylePath, p.Path),
					render(styleDim, "indexed "+indexed), p.TotalChunks, p.TotalFiles)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print projects as JSON")
	return cmd
}
