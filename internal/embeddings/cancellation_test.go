package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbedder_Cancellation(t *testing.T) {
	e := testEmbedder(t, WithBatchSize(1))
	texts := GenerateLorem(100, 3)

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	var lastErr error
	for chunk := range e.EmbedBatch(ctx, texts) {
		if chunk.Err != nil {
			lastErr = chunk.Err
			continue
		}
		count += chunk.Count
		if count == 3 {
			cancel()
		}
	}
	cancel()

	assert.Less(t, count, len(texts), "cancellation should stop processing")
	if lastErr != nil {
		assert.ErrorIs(t, lastErr, context.Canceled)
	}

	_, err := e.Embed(ctx, texts)
	assert.ErrorIs(t, err, context.Canceled)
}
