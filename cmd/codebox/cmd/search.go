package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/retoolsx/codebox/internal/search"
	"github.com/retoolsx/codebox/internal/store"
)

type searchOptions struct {
	project   string
	mode      string
	limit     int
	language  string
	chunkType string
	jsonOut   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed project",
		Long: `Search the project index.

Hybrid mode (the default) fuses vector similarity and keyword relevance
with Reciprocal Rank Fusion, boosts matching symbols, and optionally
re-ranks the top results with a cross-encoder.

Examples:
  codebox search "authentication middleware"
  codebox search "getUserId" --mode keyword --limit 5
  codebox search "parse config" --language go --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			eng, cfg, err := newEngine()
			if err != nil {
				printError(err)
				return err
			}
			defer eng.Close()

			filters := store.Filters{}
			if opts.language != "" {
				filters["language"] = opts.language
			}
			if opts.chunkType != "" {
				filters["chunk_type"] = opts.chunkType
			}

			results, err := eng.Search(cmd.Context(), opts.project, query,
				search.Mode(opts.mode), opts.limit, filters)
			if err != nil {
				printError(err)
				return err
			}

			if opts.jsonOut {
				return json.NewEncoder(os.Stdout).Encode(results)
			}
			printSearchResults(results, cfg.PreviewLength)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", ".", "Project path")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: vector, keyword, hybrid")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.chunkType, "chunk-type", "t", "", "Filter by chunk type (e.g. function_definition)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")
	return cmd
}

func printSearchResults(results []search.Result, previewLen int) {
	if len(results) == 0 {
		fmt.Println(render(styleDim, "no results"))
		return
	}

	for i, r := range results {
		header := fmt.Sprintf("%d. %s:%d-%d", i+1, r.FilePath, r.StartLine, r.EndLine)
		fmt.Println(render(stylePath, header))

		var meta []string
		if r.NodeName != "" {
			meta = append(meta, r.NodeName)
		}
		if r.ChunkType != "" {
			meta = append(meta, r.ChunkType)
		}
		meta = append(meta, r.Language)
		switch r.SearchMode {
		case search.ModeHybrid:
			meta = append(meta, fmt.Sprintf("rrf=%.4f boost=%.2f k=%d", r.RRFScore, r.SymbolBoost, r.AdaptiveK))
			if r.CrossEncoderScore != nil {
				meta = append(meta, fmt.Sprintf("ce=%.4f", *r.CrossEncoderScore))
			}
		case search.ModeVector:
			meta = append(meta, fmt.Sprintf("dist=%.4f", r.Distance))
		case search.ModeKeyword:
			meta = append(meta, fmt.Sprintf("score=%.4f", r.Score))
		}
		fmt.Println("   " + render(styleScore, strings.Join(meta, " · ")))

		for _, line := range strings.Split(preview(r.Content, previewLen), "\n") {
			fmt.Println("   " + render(styleDim, line))
		}
		fmt.Println()
	}
}
