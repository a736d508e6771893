//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/testutil"
)

func TestS3Client_ListAndGet(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	defer func() { _ = rc.Terminate(ctx) }()

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSCredential,
		SecretAccessKey: testutil.RustFSCredential,
		Bucket:          "repomem-test",
		UsePathStyle:    true,
		MaxObjectSize:   64,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))

	require.NoError(t, client.PutObject(ctx, "docs/a.md", []byte("# A\n"), "text/markdown"))
	require.NoError(t, client.PutObject(ctx, "docs/nested/b.md", []byte("# B\n"), "text/markdown"))
	require.NoError(t, client.PutObject(ctx, "docs/big.txt", make([]byte, 128), ""))
	require.NoError(t, client.PutObject(ctx, "other/c.md", []byte("# C\n"), ""))

	objects, err := client.ListObjects(ctx, "docs/", 0)
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{"docs/a.md", "docs/nested/b.md", "docs/big.txt"}, keys)

	limited, err := client.ListObjects(ctx, "docs/", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	body, err := client.GetObject(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "# A\n", string(body))

	_, err = client.GetObject(ctx, "docs/big.txt")
	assert.ErrorIs(t, err, ErrObjectTooLarge)

	require.NoError(t, client.DeleteObject(ctx, "docs/a.md"))
	_, err = client.GetObject(ctx, "docs/a.md")
	assert.Error(t, err)
}
