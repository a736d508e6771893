package client

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Job mirrors the API indexing job representation.
type Job struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Branch          string `json:"branch"`
	Trigger         string `json:"trigger"`
	FullReindex     bool   `json:"full_reindex"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	FilesTotal      int    `json:"files_total"`
	FilesProcessed  int    `json:"files_processed"`
	FilesFailed     int    `json:"files_failed"`
	VectorsAdded    int    `json:"vectors_added"`
	Revision        string `json:"revision,omitempty"`
	Error           string `json:"error,omitempty"`
	CancelRequested bool   `json:"cancel_requested"`
	CreatedAt       string `json:"created_at"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	QueueState      string `json:"queue_state,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

func (j Job) terminal() bool {
	switch j.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

type enqueueRequest struct {
	Branch      string `json:"branch,omitempty"`
	FullReindex bool   `json:"full_reindex"`
	Trigger     string `json:"trigger,omitempty"`
}

type enqueueResult struct {
	JobID        string `json:"job_id"`
	QueueJobID   string `json:"queue_job_id"`
	State        string `json:"state"`
	Deduplicated bool   `json:"deduplicated"`
	Replaced     bool   `json:"replaced"`
}

// IndexCmd creates the index command.
func IndexCmd() *cobra.Command {
	var (
		req  enqueueRequest
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "index [project-id]",
		Short: "Queue an indexing job",
		Long:  "Queues an incremental indexing job (or a full reindex with --full). With --wait, polls until the job finishes.",
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
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIndex(api, cmd.OutOrStdout(), projectID, req, wait, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&req.Branch, "branch", "b", "", "Branch to index")
	cmd.Flags().BoolVar(&req.FullReindex, "full", false, "Force a full reindex")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")

	return cmd
}

var pollInterval = 2 * time.Second

func runIndex(api *APIClient, out io.Writer, projectID string, req enqueueRequest, wait, outputJSON bool) error {
	req.Trigger = "manual"
	resp, err := api.Post("/projects/"+url.PathEscape(projectID)+"/index", req)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	var res enqueueResult
	if err := resp.Decode(&res); err != nil {
		return err
	}

	if !wait {
		if outputJSON {
			return printJSON(out, res)
		}
		switch {
		case res.Deduplicated:
			fmt.Fprintf(out, "Job %s already queued\n", res.JobID)
		case res.Replaced:
			fmt.Fprintf(out, "Queued job %s (replaced a stalled run)\n", res.JobID)
		default:
			fmt.Fprintf(out, "Queued job %s\n", res.JobID)
		}
		return nil
	}

	job, err := waitForJob(api, res.JobID, func(j *Job) {
		if !outputJSON {
			fmt.Fprintf(out, "\r%s %3d%% (%d/%d files)", j.Status, j.Progress, j.FilesProcessed, j.FilesTotal)
		}
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, job)
	}
	fmt.Fprintln(out)
	printJob(out, job)
	if job.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

func waitForJob(api *APIClient, jobID string, onPoll func(*Job)) (*Job, error) {
	for {
		job, err := getJob(api, jobID)
		if err != nil {
			return nil, err
		}
		onPoll(job)
		if job.terminal() {
			return job, nil
		}
		time.Sleep(pollInterval)
	}
}

func getJob(api *APIClient, jobID string) (*Job, error) {
	resp, err := api.Get("/jobs/" + url.PathEscape(jobID))
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	var job Job
	if err := resp.Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func printJob(out io.Writer, j *Job) {
	fmt.Fprintf(out, "Job:      %s\n", j.ID)
	fmt.Fprintf(out, "Project:  %s (%s)\n", j.ProjectID, j.Branch)
	fmt.Fprintf(out, "Status:   %s %d%%\n", j.Status, j.Progress)
	fmt.Fprintf(out, "Files:    %d/%d processed, %d failed\n", j.FilesProcessed, j.FilesTotal, j.FilesFailed)
	fmt.Fprintf(out, "Vectors:  %d added\n", j.VectorsAdded)
	if j.Revision != "" {
		fmt.Fprintf(out, "Revision: %s\n", j.Revision)
	}
	if j.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", j.Error)
	}
}

// StatusCmd creates the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show an indexing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			job, err := getJob(api, args[0])
			if err != nil {
				return err
			}
			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

// JobsCmd creates the jobs command.
func JobsCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "jobs [project-id]",
		Short: "List recent indexing jobs of a project",
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
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runJobs(api, cmd.OutOrStdout(), projectID, limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runJobs(api *APIClient, out io.Writer, projectID string, limit int, cursor string, outputJSON bool) error {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	resp, err := api.Get("/projects/" + url.PathEscape(projectID) + "/jobs?" + q.Encode())
	if err != nil {
		return fmt.Errorf("list jobs failed: %w", err)
	}

	var page struct {
		Items   []Job  `json:"items"`
		Cursor  string `json:"cursor,omitempty"`
		HasMore bool   `json:"has_more"`
	}
	if err := resp.Decode(&page); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, page)
	}
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No jobs.")
		return nil
	}
	for _, j := range page.Items {
		fmt.Fprintf(out, "%s  %-10s %3d%%  %-9s %s\n", j.ID, j.Status, j.Progress, j.Trigger, j.CreatedAt)
	}
	if page.HasMore {
		fmt.Fprintf(out, "\nMore jobs available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

// CancelCmd creates the cancel command.
func CancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running indexing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/jobs/"+url.PathEscape(args[0])+"/cancel", nil)
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}
			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				return printJSON(cmd.OutOrStdout(), resp.Data)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", args[0])
			return nil
		},
	}
}

// StatsCmd creates the stats command.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get("/queues/stats")
			if err != nil {
				return fmt.Errorf("stats failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp.Data)
		},
	}
}
