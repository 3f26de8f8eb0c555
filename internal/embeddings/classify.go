package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-bert/internal/model"
	"github.com/23skdu/longbow-bert/internal/simd"
	"github.com/23skdu/longbow-bert/internal/tokenizer"
)

// Prediction is the classifier result for one input.
type Prediction struct {
	Logits []float32
	// Probabilities is a softmax for single-label models, per-label sigmoids
	// for multi-label models and nil for regression.
	Probabilities []float32
	// Label is the argmax of Logits.
	Label int
}

// Classifier runs sequence classification over raw text.
type Classifier struct {
	model     *model.ForSequenceClassification
	tokenizer *tokenizer.WordPieceTokenizer
	opts      options
}

// NewClassifier wraps a classification model and its tokenizer. WithCache
// is ignored.
func NewClassifier(m *model.ForSequenceClassification, tok *tokenizer.WordPieceTokenizer, opts ...Option) *Classifier {
	return &Classifier{
		model:     m,
		tokenizer: tok.Limit(m.Bert.Config.MaxPositionEmbeddings),
		opts:      buildOptions(opts),
	}
}

// Classify predicts a label for each text.
func (c *Classifier) Classify(ctx context.Context, texts []string) ([]Prediction, error) {
	encodings, err := tokenize(ctx, c.tokenizer, c.opts.workers, texts)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, encodings)
}

// ClassifyPairs predicts a label for each (first[i], second[i]) sentence pair.
func (c *Classifier) ClassifyPairs(ctx context.Context, first, second []string) ([]Prediction, error) {
	if len(first) != len(second) {
		return nil, fmt.Errorf("%w: %d first sentences, %d second", model.ErrInvalidInput, len(first), len(second))
	}
	encodings := make([]tokenizer.Encoding, len(first))
	for i := range first {
		encodings[i] = c.tokenizer.EncodePair(first[i], second[i])
	}
	return c.run(ctx, encodings)
}

func (c *Classifier) run(ctx context.Context, encodings []tokenizer.Encoding) ([]Prediction, error) {
	predictions := make([]Prediction, 0, len(encodings))
	for offset := 0; offset < len(encodings); offset += c.opts.batchSize {
		end := min(offset+c.opts.batchSize, len(encodings))
		batch := tokenizer.PadBatch(encodings[offset:end], c.tokenizer.PadID())

		start := time.Now()
		out, err := c.model.Forward(ctx, model.Inputs{
			InputIDs:      batch.InputIDs,
			AttentionMask: batch.AttentionMask,
			TokenTypeIDs:  batch.TokenTypeIDs,
		}, nil)
		if err != nil {
			return nil, err
		}
		logits := make([][]float32, end-offset)
		out.Logits.ExtractTo(logits, 0)
		c.model.Bert.Backend.PutTensor(out.Logits)

		batchDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
		sequencesProcessed.WithLabelValues("classify").Add(float64(end - offset))

		for _, row := range logits {
			predictions = append(predictions, c.predict(row))
		}
	}
	return predictions, nil
}

func (c *Classifier) predict(logits []float32) Prediction {
	p := Prediction{Logits: logits}
	for i, v := range logits {
		if v > logits[p.Label] {
			p.Label = i
		}
	}
	switch c.model.ProblemType {
	case model.ProblemSingleLabelClassification:
		p.Probabilities = append([]float32(nil), logits...)
		simd.Softmax(p.Probabilities)
	case model.ProblemMultiLabelClassification:
		p.Probabilities = make([]float32, len(logits))
		for i, v := range logits {
			p.Probabilities[i] = simd.Sigmoid(v)
		}
	}
	return p
}
