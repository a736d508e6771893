package client

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

// Project mirrors the API project representation.
type Project struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	RepoURL             string `json:"repo_url"`
	DefaultBranch       string `json:"default_branch"`
	LastIndexedRevision string `json:"last_indexed_revision,omitempty"`
	LastIndexedBranch   string `json:"last_indexed_branch,omitempty"`
	LastIndexedAt       string `json:"last_indexed_at,omitempty"`
	FileCount           int    `json:"file_count"`
	VectorCount         int64  `json:"vector_count"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type createProjectRequest struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

type scheduleRequest struct {
	Branch          string `json:"branch,omitempty"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// ProjectCmd creates the project command with subcommands.
func ProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage indexed repositories",
	}

	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectGetCmd())
	cmd.AddCommand(projectDeleteCmd())
	cmd.AddCommand(projectUseCmd())
	cmd.AddCommand(projectScheduleCmd())

	return cmd
}

func projectCreateCmd() *cobra.Command {
	var req createProjectRequest

	cmd := &cobra.Command{
		Use:   "create <name> <repo-url>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			req.Name, req.RepoURL = args[0], args[1]
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runProjectCreate(api, cmd.OutOrStdout(), req, outputJSON)
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Project ID (generated if empty)")
	cmd.Flags().StringVarP(&req.DefaultBranch, "branch", "b", "main", "Default branch")

	return cmd
}

func runProjectCreate(api *APIClient, out io.Writer, req createProjectRequest, outputJSON bool) error {
	resp, err := api.Post("/projects", req)
	if err != nil {
		return fmt.Errorf("create project failed: %w", err)
	}

	var p Project
	if err := resp.Decode(&p); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, p)
	}
	fmt.Fprintf(out, "Created project %s (%s)\n", p.ID, p.Name)
	return nil
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runProjectList(api, cmd.OutOrStdout(), outputJSON)
		},
	}
}

func runProjectList(api *APIClient, out io.Writer, outputJSON bool) error {
	resp, err := api.Get("/projects")
	if err != nil {
		return fmt.Errorf("list projects failed: %w", err)
	}

	var projects []Project
	if err := resp.Decode(&projects); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects.")
		return nil
	}
	for _, p := range projects {
		rev := p.LastIndexedRevision
		if rev == "" {
			rev = "never indexed"
		} else if len(rev) > 12 {
			rev = rev[:12]
		}
		fmt.Fprintf(out, "%s  %-24s %s@%s  (%s, %d files, %d vectors)\n",
			p.ID, p.Name, p.RepoURL, p.DefaultBranch, rev, p.FileCount, p.VectorCount)
	}
	return nil
}

func projectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [project-id]",
		Short: "Show a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(cmd, args)
			if err != nil {
				return err
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get("/projects/" + url.PathEscape(projectID))
			if err != nil {
				return fmt.Errorf("get project failed: %w", err)
			}
			var p Project
			if err := resp.Decode(&p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and all of its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Delete("/projects/" + url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("delete project failed: %w", err)
			}
			var res struct {
				VectorsDeleted int64 `json:"vectors_deleted"`
				Remaining      int64 `json:"remaining"`
			}
			if err := resp.Decode(&res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s (%d vectors removed, %d remaining)\n",
				args[0], res.VectorsDeleted, res.Remaining)
			return nil
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <project-id>",
		Short: "Set the default project for subsequent commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectUse(cmd.OutOrStdout(), args[0])
		},
	}
}

func runProjectUse(out io.Writer, projectID string) error {
	config, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if config == nil {
		config = &GlobalConfig{APIURL: defaultAPIURL}
	}
	config.ProjectID = projectID
	if err := SaveGlobalConfig(config); err != nil {
		return err
	}
	fmt.Fprintf(out, "Using project %s\n", projectID)
	return nil
}

func projectScheduleCmd() *cobra.Command {
	var req scheduleRequest
	var remove bool

	cmd := &cobra.Command{
		Use:   "schedule [project-id]",
		Short: "Poll the remote for new commits on an interval",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(cmd, args)
			if err != nil {
				return err
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := "/projects/" + url.PathEscape(projectID) + "/schedule"
			if remove {
				if _, err := api.Delete(path); err != nil {
					return fmt.Errorf("remove schedule failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schedule removed")
				return nil
			}
			resp, err := api.Put(path, req)
			if err != nil {
				return fmt.Errorf("set schedule failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}

	cmd.Flags().StringVarP(&req.Branch, "branch", "b", "", "Branch to poll (default: project default branch)")
	cmd.Flags().IntVar(&req.IntervalMinutes, "every", 60, "Interval in minutes")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the schedule")

	return cmd
}

// projectArg takes the project from the positional argument or falls back to
// the --project cascade.
func projectArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	flag, _ := cmd.Flags().GetString("project")
	return resolveProject(flag)
}
