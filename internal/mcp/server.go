// Package mcp exposes repository memory to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/queue"
)

const ServerName = "repomem"

type Searcher interface {
	Search(ctx context.Context, query string, filters domain.SearchFilters, opts domain.SearchOptions) (*domain.SearchResponse, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, in memory.RetrieveInput) ([]memory.Match, error)
}

type Jobs interface {
	GetJob(ctx context.Context, jobID string) (*queue.JobStatus, error)
	EnqueueIndexingJob(ctx context.Context, req queue.IndexingRequest) (*queue.EnqueueResult, error)
}

// Server wraps the MCP server with the memory services it calls.
type Server struct {
	mcp      *server.MCPServer
	search   Searcher
	retrieve Retriever
	jobs     Jobs
}

func NewServer(version string, search Searcher, retrieve Retriever, jobs Jobs) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		search:   search,
		retrieve: retrieve,
		jobs:     jobs,
	}
	s.mcp.AddTool(searchMemoryTool(), s.handleSearchMemory)
	s.mcp.AddTool(retrieveMemoryTool(), s.handleRetrieveMemory)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(enqueueIndexTool(), s.handleEnqueueIndex)
	return s
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchMemoryTool() mcp.Tool {
	return mcp.NewTool("search_memory",
		mcp.WithDescription("Hybrid semantic and keyword search over indexed repositories and ingested documents."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language or keyword query")),
		mcp.WithString("project_id", mcp.Description("Restrict to global memory plus this project")),
		mcp.WithString("mode", mcp.Description("hybrid (default), semantic or keyword"), mcp.Enum("hybrid", "semantic", "keyword")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20, max 100)")),
	)
}

func retrieveMemoryTool() mcp.Tool {
	return mcp.NewTool("retrieve_memory",
		mcp.WithDescription("Vector similarity retrieval of stored chunks with scope control."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to embed and match")),
		mcp.WithString("project_id", mcp.Description("Project whose scope is read")),
		mcp.WithString("scope", mcp.Description("global, project or all (default)"), mcp.Enum("global", "project", "all")),
		mcp.WithString("language", mcp.Description("Optional language filter, e.g. go or python")),
		mcp.WithNumber("limit", mcp.Description("Maximum matches (default 10)")),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Status and progress of an indexing job."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Indexing job id returned by enqueue_index")),
	)
}

func enqueueIndexTool() mcp.Tool {
	return mcp.NewTool("enqueue_index",
		mcp.WithDescription("Queue an indexing run for a registered project. Returns the existing job when one is already in flight."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Registered project id")),
		mcp.WithString("branch", mcp.Description("Branch to index (project default when empty)")),
		mcp.WithBoolean("full_reindex", mcp.Description("Drop existing vectors and index every file")),
	)
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	resp, err := s.search.Search(ctx, query,
		domain.SearchFilters{ProjectID: req.GetString("project_id", "")},
		domain.SearchOptions{
			Mode:  domain.SearchMode(req.GetString("mode", "")),
			Limit: req.GetInt("limit", 0),
		})
	if err != nil {
		return toolError("search failed", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleRetrieveMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	in := memory.RetrieveInput{
		Query:     query,
		ProjectID: req.GetString("project_id", ""),
		Scope:     domain.RetrieveMode(req.GetString("scope", string(domain.RetrieveAll))),
		Limit:     req.GetInt("limit", 0),
	}
	if lang := req.GetString("language", ""); lang != "" {
		in.Filters.Languages = []string{lang}
	}
	matches, err := s.retrieve.Retrieve(ctx, in)
	if err != nil {
		return toolError("retrieve failed", err), nil
	}
	if matches == nil {
		matches = []memory.Match{}
	}
	return jsonResult(matches)
}

func (s *Server) handleIndexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}
	status, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return toolError("status lookup failed", err), nil
	}
	job := status.Job
	return jsonResult(map[string]any{
		"job_id":          job.ID,
		"project_id":      job.ProjectID,
		"status":          job.Status,
		"progress":        job.Progress,
		"files_total":     job.FilesTotal,
		"files_processed": job.FilesProcessed,
		"files_failed":    job.FilesFailed,
		"vectors_added":   job.VectorsAdded,
		"revision":        job.Revision,
		"error":           job.Error,
		"queue_state":     status.QueueState,
		"attempts":        status.Attempts,
	})
}

func (s *Server) handleEnqueueIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id is required"), nil
	}
	res, err := s.jobs.EnqueueIndexingJob(ctx, queue.IndexingRequest{
		ProjectID:   projectID,
		Branch:      req.GetString("branch", ""),
		FullReindex: req.GetBool("full_reindex", false),
		Trigger:     domain.TriggerManual,
	})
	if err != nil {
		return toolError("enqueue failed", err), nil
	}
	return jsonResult(res)
}

// toolError keeps domain messages and hides internal ones.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, de.Message))
	}
	log.Printf("mcp: %s: %v", prefix, err)
	return mcp.NewToolResultError(prefix)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
