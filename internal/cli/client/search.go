package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query   string               `json:"query"`
	Filters domain.SearchFilters `json:"filters"`
	Options domain.SearchOptions `json:"options"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		mode        string
		languages   []string
		types       []string
		limit       int
		offset      int
		noFacets    bool
		skipCache   bool
		allProjects bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search code and documentation",
		Long:  "Hybrid semantic and keyword search over global memory and, when a project is selected, that project's memory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := SearchRequest{
				Query: args[0],
				Filters: domain.SearchFilters{
					Languages: languages,
				},
				Options: domain.SearchOptions{
					Mode:               domain.SearchMode(mode),
					Limit:              limit,
					Offset:             offset,
					SkipFacets:         noFacets,
					SkipCache:          skipCache,
				},
			}
			for _, t := range types {
				req.Filters.ContentTypes = append(req.Filters.ContentTypes, domain.ContentType(t))
			}
			if !allProjects {
				flag, _ := cmd.Flags().GetString("project")
				if projectID, err := resolveProject(flag); err == nil {
					req.Filters.ProjectID = projectID
				}
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSearch(api, cmd.OutOrStdout(), req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Search mode (semantic|keyword|hybrid)")
	cmd.Flags().StringSliceVarP(&languages, "lang", "l", nil, "Filter by language")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by content type (code|documentation|configuration|data|unknown)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many results")
	cmd.Flags().BoolVar(&noFacets, "no-facets", false, "Omit facet counts")
	cmd.Flags().BoolVar(&skipCache, "no-cache", false, "Bypass the result cache")
	cmd.Flags().BoolVar(&allProjects, "global", false, "Search global memory only")

	return cmd
}

func runSearch(api *APIClient, out io.Writer, req SearchRequest, outputJSON bool) error {
	resp, err := api.Post("/search", req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp domain.SearchResponse
	if err := resp.Decode(&searchResp); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, searchResp)
	}

	if len(searchResp.Degraded) > 0 {
		fmt.Fprintf(out, "warning: %s unavailable, results are partial\n\n", strings.Join(searchResp.Degraded, ", "))
	}
	if len(searchResp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		if len(searchResp.Suggestions) > 0 {
			fmt.Fprintf(out, "Did you mean: %s\n", strings.Join(searchResp.Suggestions, ", "))
		}
		return nil
	}

	fmt.Fprintf(out, "Found %d results (%dms):\n\n", searchResp.Total, searchResp.TookMs)
	for i, r := range searchResp.Results {
		loc := r.Source
		if r.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d-%d", r.Source, r.StartLine, r.EndLine)
		}
		fmt.Fprintf(out, "%d. %s (%.3f)\n", i+1, r.Title, r.CombinedScore)
		fmt.Fprintf(out, "   %s [%s]\n", loc, r.Scope)
		if r.Snippet != "" {
			fmt.Fprintf(out, "   %s\n", truncate(strings.Join(strings.Fields(r.Snippet), " "), 100))
		}
		if i < len(searchResp.Results)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
