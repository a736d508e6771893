package client

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type ingestRequest struct {
	Content     string `json:"content"`
	Source      string `json:"source"`
	ContentType string `json:"content_type,omitempty"`
	Language    string `json:"language,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

type ingestResult struct {
	VectorsAdded int    `json:"vectors_added"`
	Scope        string `json:"scope"`
	Language     string `json:"language,omitempty"`
	FallbackUsed bool   `json:"fallback_used"`
}

type retrieveRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type retrieveMatch struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Scope     string  `json:"scope"`
	Name      string  `json:"name,omitempty"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
}

type bucketIngestRequest struct {
	Prefix    string `json:"prefix"`
	ProjectID string `json:"project_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// MemoryCmd creates the memory command with subcommands.
func MemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Ingest, retrieve and forget memory directly",
	}

	cmd.AddCommand(memoryIngestCmd())
	cmd.AddCommand(memoryRetrieveCmd())
	cmd.AddCommand(memoryForgetCmd())
	cmd.AddCommand(memoryBucketCmd())

	return cmd
}

func memoryIngestCmd() *cobra.Command {
	var req ingestRequest

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a local file",
		Long:  "Ingests a file into global memory, or into project memory when --scope project is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Scope == "project" {
				flag, _ := cmd.Flags().GetString("project")
				projectID, err := resolveProject(flag)
				if err != nil {
					return err
				}
				req.ProjectID, req.Scope = projectID, ""
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runMemoryIngest(api, cmd.OutOrStdout(), args[0], req, outputJSON)
		},
	}

	cmd.Flags().StringVar(&req.Source, "source", "", "Source name (default: the file path)")
	cmd.Flags().StringVar(&req.ContentType, "type", "", "Content type (detected from the extension if empty)")
	cmd.Flags().StringVar(&req.Language, "lang", "", "Language (detected from the extension if empty)")
	cmd.Flags().StringVar(&req.Scope, "scope", "global", "Scope (global|project)")

	return cmd
}

func runMemoryIngest(api *APIClient, out io.Writer, path string, req ingestRequest, outputJSON bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	req.Content = string(content)
	if req.Source == "" {
		req.Source = filepath.ToSlash(path)
	}

	resp, err := api.Post("/memory", req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var res ingestResult
	if err := resp.Decode(&res); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Ingested %s into %s memory (%d vectors)\n", req.Source, res.Scope, res.VectorsAdded)
	return nil
}

func memoryRetrieveCmd() *cobra.Command {
	var req retrieveRequest

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Semantic retrieval without ranking fusion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = args[0]
			if req.Scope != "global" {
				flag, _ := cmd.Flags().GetString("project")
				if projectID, err := resolveProject(flag); err == nil {
					req.ProjectID = projectID
				} else if req.Scope == "project" {
					return err
				}
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runMemoryRetrieve(api, cmd.OutOrStdout(), req, outputJSON)
		},
	}

	cmd.Flags().StringVar(&req.Scope, "scope", "all", "Scope (global|project|all)")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 10, "Maximum number of matches")

	return cmd
}

func runMemoryRetrieve(api *APIClient, out io.Writer, req retrieveRequest, outputJSON bool) error {
	resp, err := api.Post("/memory/retrieve", req)
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	var res struct {
		Matches []retrieveMatch `json:"matches"`
	}
	if err := resp.Decode(&res); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, res.Matches)
	}
	if len(res.Matches) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	for i, m := range res.Matches {
		fmt.Fprintf(out, "%d. %s [%s] %.3f\n", i+1, m.Source, m.Scope, m.Score)
		if m.Name != "" {
			fmt.Fprintf(out, "   %s (lines %d-%d)\n", m.Name, m.StartLine, m.EndLine)
		}
	}
	return nil
}

func memoryForgetCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "forget <source>",
		Short: "Delete every vector of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			q := url.Values{"source": {args[0]}}
			if scope != "" {
				q.Set("scope", scope)
			}
			if _, err := api.Delete("/memory?" + q.Encode()); err != nil {
				return fmt.Errorf("forget failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Scope of the source: global or project:<id> (default: global)")

	return cmd
}

func memoryBucketCmd() *cobra.Command {
	var req bucketIngestRequest

	cmd := &cobra.Command{
		Use:   "ingest-bucket <prefix>",
		Short: "Ingest text objects from the configured S3 bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prefix = args[0]
			if req.Scope == "project" {
				flag, _ := cmd.Flags().GetString("project")
				projectID, err := resolveProject(flag)
				if err != nil {
					return err
				}
				req.ProjectID, req.Scope = projectID, ""
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/memory/ingest/bucket", req)
			if err != nil {
				return fmt.Errorf("bucket ingest failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}

	cmd.Flags().StringVar(&req.Scope, "scope", "global", "Scope (global|project)")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "Maximum number of objects (0 reads all)")

	return cmd
}
