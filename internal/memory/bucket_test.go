package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/storage"
	"github.com/cloo-solutions/repomem/internal/vectorstore"
)

type fakeBucket struct {
	objects map[string][]byte
	getErr  map[string]error
	listErr error
}

func (b *fakeBucket) Bucket() string { return "docs" }

func (b *fakeBucket) ListObjects(_ context.Context, prefix string, limit int) ([]storage.Object, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []storage.Object
	for _, k := range keys {
		out = append(out, storage.Object{Key: k, Size: int64(len(b.objects[k]))})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *fakeBucket) GetObject(_ context.Context, key string) ([]byte, error) {
	if err := b.getErr[key]; err != nil {
		return nil, err
	}
	return b.objects[key], nil
}

func TestIngestBucket(t *testing.T) {
	f := newFixture()
	src := &fakeBucket{
		objects: map[string][]byte{
			"runbooks/deploy.md":  []byte("# Deploy\n\nRun the pipeline.\n\n## Rollback\n\nRevert the tag.\n"),
			"runbooks/logo.png":   {0x89, 0x50, 0x4e, 0x47, 0x00, 0x01},
			"runbooks/huge.txt":   []byte("x"),
			"runbooks/broken.txt": []byte("y"),
			"other/skip.md":       []byte("# Other\n"),
		},
		getErr: map[string]error{
			"runbooks/huge.txt":   storage.ErrObjectTooLarge,
			"runbooks/broken.txt": errors.New("connection reset"),
		},
	}

	res, err := f.gw.IngestBucket(context.Background(), src, BucketIngestInput{Prefix: "runbooks/", ProjectID: "ops"})
	require.NoError(t, err)

	assert.Equal(t, "docs", res.Bucket)
	assert.Equal(t, domain.ProjectScope("ops"), res.Scope)
	require.Len(t, res.Objects, 4)
	assert.Equal(t, 1, res.Failed)

	byKey := make(map[string]BucketObjectResult)
	for _, o := range res.Objects {
		byKey[o.Key] = o
	}
	assert.True(t, byKey["runbooks/logo.png"].Skipped)
	assert.True(t, byKey["runbooks/huge.txt"].Skipped)
	assert.Equal(t, "connection reset", byKey["runbooks/broken.txt"].Error)

	deploy := byKey["runbooks/deploy.md"]
	assert.Equal(t, "s3://docs/runbooks/deploy.md", deploy.Source)
	assert.Positive(t, deploy.VectorsAdded)
	assert.Equal(t, deploy.VectorsAdded, res.VectorsAdded)

	n := f.count(t, vectorstore.Filter{Scopes: []domain.Scope{domain.ProjectScope("ops")}, Source: deploy.Source})
	assert.Equal(t, int64(deploy.VectorsAdded), n)
	for _, doc := range f.keywords.docs {
		assert.Equal(t, domain.SourceTypeBucket, doc.SourceType)
	}
}

func TestIngestBucket_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.gw.IngestBucket(ctx, nil, BucketIngestInput{})
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeUnavailable, de.Code)

	_, err = f.gw.IngestBucket(ctx, &fakeBucket{}, BucketIngestInput{Limit: -1})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCodeValidation, de.Code)

	_, err = f.gw.IngestBucket(ctx, &fakeBucket{listErr: errors.New("access denied")}, BucketIngestInput{})
	assert.ErrorContains(t, err, "access denied")
}
