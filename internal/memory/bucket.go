package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/storage"
)

// ObjectSource lists and reads documents from a bucket.
type ObjectSource interface {
	Bucket() string
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.Object, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type BucketIngestInput struct {
	Prefix    string       `json:"prefix"`
	ProjectID string       `json:"project_id,omitempty"`
	Scope     domain.Scope `json:"scope,omitempty"`
	// Limit caps the number of objects read; zero reads every key under Prefix.
	Limit int `json:"limit,omitempty"`
}

type BucketObjectResult struct {
	Key          string `json:"key"`
	Source       string `json:"source"`
	VectorsAdded int    `json:"vectors_added"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

type BucketIngestResult struct {
	Bucket       string               `json:"bucket"`
	Scope        domain.Scope         `json:"scope"`
	Objects      []BucketObjectResult `json:"objects"`
	VectorsAdded int                  `json:"vectors_added"`
	Failed       int                  `json:"failed"`
}

// BucketSource returns the memory source name for an object key.
func BucketSource(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// IngestBucket ingests every text object under a prefix. Binary and oversized
// objects are skipped; a failed object does not stop the rest.
func (g *Gateway) IngestBucket(ctx context.Context, src ObjectSource, in BucketIngestInput) (*BucketIngestResult, error) {
	if src == nil {
		return nil, domain.NewDomainError(domain.ErrCodeUnavailable, "object storage is not configured")
	}
	if in.Limit < 0 {
		return nil, domain.NewValidationError("limit cannot be negative")
	}
	if in.Scope != "" {
		if _, err := domain.ParseScope(string(in.Scope)); err != nil {
			return nil, err
		}
	}

	objects, err := src.ListObjects(ctx, in.Prefix, in.Limit)
	if err != nil {
		return nil, fmt.Errorf("ingest bucket %s: %w", src.Bucket(), err)
	}

	result := &BucketIngestResult{
		Bucket:  src.Bucket(),
		Scope:   domain.ResolveScope(in.ProjectID, in.Scope),
		Objects: make([]BucketObjectResult, 0, len(objects)),
	}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res := BucketObjectResult{Key: obj.Key, Source: BucketSource(src.Bucket(), obj.Key)}

		body, err := src.GetObject(ctx, obj.Key)
		switch {
		case errors.Is(err, storage.ErrObjectTooLarge):
			res.Skipped = true
		case err != nil:
			res.Error = err.Error()
			result.Failed++
		case !utf8.Valid(body) || strings.ContainsRune(string(body), 0):
			res.Skipped = true
		default:
			ingested, ingestErr := g.Ingest(ctx, IngestInput{
				Content:    string(body),
				Source:     res.Source,
				ProjectID:  in.ProjectID,
				Scope:      in.Scope,
				SourceType: domain.SourceTypeBucket,
			})
			if ingestErr != nil {
				log.Printf("memory: bucket object %s failed: %v", obj.Key, ingestErr)
				res.Error = ingestErr.Error()
				result.Failed++
				break
			}
			res.VectorsAdded = ingested.VectorsAdded
			result.VectorsAdded += ingested.VectorsAdded
		}
		result.Objects = append(result.Objects, res)
	}
	return result, nil
}
