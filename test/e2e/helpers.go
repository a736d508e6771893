//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/repomem/internal/api/handlers"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/gitrepo"
	"github.com/cloo-solutions/repomem/internal/indexer"
	"github.com/cloo-solutions/repomem/internal/jobs"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/parser"
	"github.com/cloo-solutions/repomem/internal/queue"
	"github.com/cloo-solutions/repomem/internal/repository"
	"github.com/cloo-solutions/repomem/internal/search"
	"github.com/cloo-solutions/repomem/internal/server"
	"github.com/cloo-solutions/repomem/internal/storage"
	"github.com/cloo-solutions/repomem/internal/testutil"
	"github.com/cloo-solutions/repomem/internal/vectorstore"
)

const (
	testAPIKey = "rm_e2e_key"
	embedDims  = 32
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers, workers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	return setupEnv(t, true)
}

// SetupE2EEnvNoWorkers leaves queued jobs waiting so queue state can be asserted.
func SetupE2EEnvNoWorkers(t *testing.T) *E2ETestEnv {
	return setupEnv(t, false)
}

func setupEnv(t *testing.T, withWorkers bool) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSCredential,
		SecretAccessKey: testutil.RustFSCredential,
		Bucket:          "e2e-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, s3Client, port, withWorkers)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the repomem CLI
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "repomem-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "repomem"), "./cmd/repomem")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build repomem: %v\n%s", err, out)
	}
}

// RunRepomem runs the repomem CLI against the test server
func (e *E2ETestEnv) RunRepomem(workDir string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "repomem"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("REPOMEM_API_KEY=%s", testAPIKey),
		fmt.Sprintf("REPOMEM_API_URL=%s", e.ServerURL),
		"XDG_CONFIG_HOME="+workDir,
		"HOME="+workDir,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int             `json:"-"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
}

func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, testAPIKey)
}

func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, testAPIKey)
}

func (e *E2ETestEnv) Put(path string, body any) (*APIResponse, error) {
	return e.doRequest(http.MethodPut, path, body, testAPIKey)
}

func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, testAPIKey)
}

// Decode unmarshals the data envelope or fails the test.
func (e *E2ETestEnv) Decode(resp *APIResponse, v any) {
	e.T.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		e.T.Fatalf("failed to decode %s: %v", resp.Data, err)
	}
}

func (e *E2ETestEnv) doRequest(method, path string, body any, authToken string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{Status: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
			}
			return nil, err
		}
	}

	if resp.StatusCode >= 400 {
		return &apiResp, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// WaitForJob polls an indexing job until it reaches a terminal status.
func (e *E2ETestEnv) WaitForJob(jobID string, timeout time.Duration) map[string]any {
	e.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/jobs/" + jobID)
		if err != nil {
			e.T.Fatalf("get job %s: %v", jobID, err)
		}
		var job map[string]any
		e.Decode(resp, &job)
		switch job["status"] {
		case string(domain.IndexingJobStatusCompleted), string(domain.IndexingJobStatusFailed), string(domain.IndexingJobStatusCancelled):
			return job
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("job %s did not finish within %v", jobID, timeout)
	return nil
}

// GitRepo is a throwaway repository served over file://.
type GitRepo struct {
	t   *testing.T
	Dir string
}

// NewGitRepo initialises a repository on branch main. Skips when git is missing.
func NewGitRepo(t *testing.T) *GitRepo {
	t.Helper()
	if !gitrepo.Available() {
		t.Skip("git binary not available")
	}
	r := &GitRepo{t: t, Dir: t.TempDir()}
	r.git("init", "-q", "-b", "main")
	r.git("config", "user.email", "e2e@repomem.dev")
	r.git("config", "user.name", "repomem e2e")
	return r
}

func (r *GitRepo) URL() string {
	return "file://" + r.Dir
}

// Commit writes files (empty content deletes) and commits them.
func (r *GitRepo) Commit(msg string, files map[string]string) {
	r.t.Helper()
	for rel, content := range files {
		path := filepath.Join(r.Dir, rel)
		if content == "" {
			r.git("rm", "-q", rel)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			r.t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			r.t.Fatal(err)
		}
		r.git("add", rel)
	}
	r.git("commit", "-q", "-m", msg)
}

func (r *GitRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// wordEmbedder hashes words into buckets so related texts land close together.
type wordEmbedder struct{}

func (wordEmbedder) Dimensions() int { return embedDims }

func (wordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embedDims)
	vec[0] = 0.01
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%embedDims]++
	}
	return vec, nil
}

// startServer wires the same components as repomemd serve, with a local embedder.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int, withWorkers bool) (string, func()) {
	projects := repository.NewProjectRepository(pool)
	indexJobs := repository.NewIndexingJobRepository(pool)
	queueRepo := repository.NewQueueRepository(pool)
	content := repository.NewContentRepository(pool)

	store, err := vectorstore.NewPGVectorStore(pool, vectorstore.DefaultTable)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	parsers := parser.DefaultRegistry()
	mem := memory.NewGateway(parser.NewFramework(parsers), wordEmbedder{}, store, memory.WithKeywordIndex(content))
	git := gitrepo.NewClient(gitrepo.Timeouts{})
	engine := indexer.NewEngine(indexer.Config{WorkDir: t.TempDir()}, projects, indexJobs, mem, git, parsers, indexer.NewRegistry())
	q := queue.NewService(repository.NewTxRunner(pool), indexJobs, queueRepo, projects, engine.Registry(), queue.Config{})
	searchEngine := search.NewEngine(mem, content, repository.NewQueryHistoryRepository(pool), search.NewLRUCache(100, time.Minute))

	workers := jobs.NewPool(100 * time.Millisecond)
	workers.Register(queueRepo, jobs.NewIndexingHandler(engine, indexJobs, engine.Registry()),
		jobs.ProcessorConfig{Queue: domain.QueueIndexing, Concurrency: 2})
	workers.Register(queueRepo, jobs.NewScheduleHandler(projects, git, q),
		jobs.ProcessorConfig{Queue: domain.QueueSchedule, Concurrency: 1})
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	if withWorkers {
		workers.Start(workerCtx)
	}

	router := server.NewRouter(server.RouterConfig{
		APIKey:          testAPIKey,
		ProjectHandler:  handlers.NewProjectHandler(projects, mem, q),
		IndexingHandler: handlers.NewIndexingHandler(q, indexJobs, engine),
		MemoryHandler:   handlers.NewMemoryHandler(mem, s3Client),
		SearchHandler:   handlers.NewSearchHandler(searchEngine),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		stopWorkers()
		workers.Stop()
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
