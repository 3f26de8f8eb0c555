package embeddings

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bert/internal/cache"
	"github.com/23skdu/longbow-bert/internal/model"
	"github.com/23skdu/longbow-bert/internal/tokenizer"
)

// Option customises an Embedder or Classifier.
type Option func(*options)

type options struct {
	cache     cache.VectorCache
	batchSize int
	workers   int
}

// WithCache serves repeated token sequences from c.
func WithCache(c cache.VectorCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithBatchSize sets how many sequences share one forward pass.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{batchSize: 32, workers: runtime.NumCPU()}
	if o.workers > 16 {
		o.workers = 16 // Cap at 16 workers for tokenization
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StreamResult is one chunk of pooled outputs. Chunks arrive in input order.
type StreamResult struct {
	Offset  int
	Count   int
	Vectors [][]float32
	Err     error
}

// Embedder tokenizes text and returns the pooled BERT output per sequence.
type Embedder struct {
	model     *model.Model
	tokenizer *tokenizer.WordPieceTokenizer
	opts      options
}

// NewEmbedder wraps a model and its tokenizer. Encodings are truncated to
// the model's position table.
func NewEmbedder(m *model.Model, tok *tokenizer.WordPieceTokenizer, opts ...Option) *Embedder {
	return &Embedder{
		model:     m,
		tokenizer: tok.Limit(m.Config.MaxPositionEmbeddings),
		opts:      buildOptions(opts),
	}
}

// Dim is the width of every returned vector.
func (e *Embedder) Dim() int {
	return e.model.Config.HiddenSize
}

// EmbedBatch streams pooled outputs in chunks of the configured batch size.
// The channel is closed after the last chunk, the first error, or when ctx
// is cancelled.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) <-chan StreamResult {
	out := make(chan StreamResult, 1)
	go func() {
		defer close(out)
		send := func(r StreamResult) bool {
			select {
			case out <- r:
				return r.Err == nil
			case <-ctx.Done():
				return false
			}
		}

		encodings, err := tokenize(ctx, e.tokenizer, e.opts.workers, texts)
		if err != nil {
			send(StreamResult{Err: err})
			return
		}

		for offset := 0; offset < len(encodings); offset += e.opts.batchSize {
			if err := ctx.Err(); err != nil {
				send(StreamResult{Offset: offset, Err: err})
				return
			}
			end := min(offset+e.opts.batchSize, len(encodings))
			vectors, err := e.embedChunk(ctx, encodings[offset:end])
			if !send(StreamResult{Offset: offset, Count: end - offset, Vectors: vectors, Err: err}) {
				return
			}
		}
	}()
	return out
}

// Embed returns one pooled vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	done := 0
	for chunk := range e.EmbedBatch(ctx, texts) {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		copy(vectors[chunk.Offset:], chunk.Vectors)
		done += chunk.Count
	}
	if done != len(texts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embedded %d of %d texts", done, len(texts))
	}
	return vectors, nil
}

func (e *Embedder) embedChunk(ctx context.Context, encodings []tokenizer.Encoding) ([][]float32, error) {
	vectors := make([][]float32, len(encodings))
	keys := make([]uint64, len(encodings))
	var missing []int
	for i, enc := range encodings {
		if e.opts.cache != nil {
			keys[i] = cache.Key(enc.IDs, enc.TypeIDs)
			if v, ok := e.opts.cache.Get(keys[i]); ok {
				vectors[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	batchEncodings := make([]tokenizer.Encoding, len(missing))
	for j, i := range missing {
		batchEncodings[j] = encodings[i]
	}
	batch := tokenizer.PadBatch(batchEncodings, e.tokenizer.PadID())

	start := time.Now()
	out, err := e.model.Forward(ctx, model.Inputs{
		InputIDs:      batch.InputIDs,
		AttentionMask: batch.AttentionMask,
		TokenTypeIDs:  batch.TokenTypeIDs,
	})
	if err != nil {
		return nil, err
	}
	pooled := make([][]float32, len(missing))
	out.PooledOutput.ExtractTo(pooled, 0)
	e.model.Backend.PutTensor(out.PooledOutput)
	e.model.Backend.PutTensor(out.SequenceOutput.Tensor)

	batchDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	sequencesProcessed.WithLabelValues("embed").Add(float64(len(missing)))

	for j, i := range missing {
		vectors[i] = pooled[j]
		if e.opts.cache != nil {
			e.opts.cache.Put(keys[i], pooled[j])
		}
	}
	return vectors, nil
}

// tokenize encodes texts in parallel, preserving order.
func tokenize(ctx context.Context, tok *tokenizer.WordPieceTokenizer, workers int, texts []string) ([]tokenizer.Encoding, error) {
	start := time.Now()
	encodings := make([]tokenizer.Encoding, len(texts))
	if len(texts) == 0 {
		return encodings, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	chunkSize := (len(texts) + workers - 1) / workers
	for s := 0; s < len(texts); s += chunkSize {
		s, end := s, min(s+chunkSize, len(texts))
		g.Go(func() error {
			for i := s; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				encodings[i] = tok.Encode(texts[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	tokenizationDuration.Observe(elapsed.Seconds())
	total := 0
	for _, enc := range encodings {
		total += enc.Len()
	}
	if elapsed > 0 {
		tokensPerSecond.Set(float64(total) / elapsed.Seconds())
	}
	log.Debug().Int("texts", len(texts)).Int("tokens", total).Dur("elapsed", elapsed).Msg("Tokenized batch")
	return encodings, nil
}
