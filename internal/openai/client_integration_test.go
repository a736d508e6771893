//go:build integration

package openai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the live endpoint named by REPOMEM_OPENAI_API_KEY and
// REPOMEM_OPENAI_BASE_URL, so compatible local servers work too.
func TestIntegration_ClientFromEnv(t *testing.T) {
	client, err := NewClientFromEnv()
	if err != nil {
		t.Skip("REPOMEM_OPENAI_API_KEY not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	t.Run("chunk text embeds at the configured size", func(t *testing.T) {
		embedding, err := client.GenerateEmbedding(ctx, "func (s *Service) Refund(ctx context.Context, id string) error")
		require.NoError(t, err)
		assert.Len(t, embedding, client.Dimensions())
	})

	t.Run("same text embeds the same way", func(t *testing.T) {
		first, err := client.GenerateEmbedding(ctx, "# Deploy\nRun make release.")
		require.NoError(t, err)
		second, err := client.GenerateEmbedding(ctx, "# Deploy\nRun make release.")
		require.NoError(t, err)
		assert.InDeltaSlice(t, first, second, 1e-3)
	})

	t.Run("blank text never reaches the api", func(t *testing.T) {
		_, err := client.GenerateEmbedding(ctx, "  \n")
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}
