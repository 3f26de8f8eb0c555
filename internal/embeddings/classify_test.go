package embeddings

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/model"
)

func testClassifier(t *testing.T, numLabels int, problemType string) *Classifier {
	t.Helper()
	cfg := testConfig()
	cfg.NumLabels = numLabels
	cfg.ProblemType = problemType
	m, err := model.NewForSequenceClassification(cfg, device.NewCPUBackend(), model.WithSeed(3))
	require.NoError(t, err)
	return NewClassifier(m, testTokenizer(t), WithBatchSize(2))
}

func TestClassifier_SingleLabel(t *testing.T) {
	c := testClassifier(t, 3, "")
	preds, err := c.Classify(context.Background(), []string{"hello", "world", "test sentence"})
	require.NoError(t, err)
	require.Len(t, preds, 3)

	for _, p := range preds {
		require.Len(t, p.Logits, 3)
		var sum float32
		for _, v := range p.Probabilities {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
		for i, v := range p.Logits {
			assert.LessOrEqual(t, v, p.Logits[p.Label], "label %d", i)
		}
	}
}

func TestClassifier_Regression(t *testing.T) {
	c := testClassifier(t, 1, "")
	preds, err := c.Classify(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Len(t, preds[0].Logits, 1)
	assert.Nil(t, preds[0].Probabilities)
}

func TestClassifier_MultiLabel(t *testing.T) {
	c := testClassifier(t, 4, model.ProblemMultiLabelClassification)
	preds, err := c.ClassifyPairs(context.Background(), []string{"hello"}, []string{"world"})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	for _, v := range preds[0].Probabilities {
		assert.Greater(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}

	_, err = c.ClassifyPairs(context.Background(), []string{"a"}, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestClassifier_LongPairs(t *testing.T) {
	c := testClassifier(t, 2, "")
	long := strings.Repeat("test sentence ", testConfig().MaxPositionEmbeddings)
	preds, err := c.ClassifyPairs(context.Background(), []string{long}, []string{long})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Len(t, preds[0].Logits, 2)
}
