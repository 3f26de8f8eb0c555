package main

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-bert/internal/checkpoint"
	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/embeddings"
	"github.com/23skdu/longbow-bert/internal/model"
	"github.com/23skdu/longbow-bert/internal/tokenizer"
)

// modelFlags are shared by every command that runs the encoder.
type modelFlags struct {
	config     string
	pretrained string
	checkpoint string
	vocab      string
	cased      bool
	maxLength  int
	batchSize  int
	seed       int64
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "", "Path to a config.json (defaults to bert-base-uncased)")
	cmd.Flags().StringVar(&f.pretrained, "pretrained", "", "Use the architecture of a registered checkpoint (see bert registry)")
	cmd.Flags().StringVar(&f.checkpoint, "checkpoint", "", "Native .ckpt or PyTorch .bin weights; random init when empty")
	cmd.Flags().StringVar(&f.vocab, "vocab", "vocab.txt", "Path to vocab file")
	cmd.Flags().BoolVar(&f.cased, "cased", false, "Keep case and accents when tokenizing")
	cmd.Flags().IntVar(&f.maxLength, "max-length", 512, "Maximum tokens per sequence, special tokens included")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 32, "Sequences per forward pass")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Seed for random initialization")
	cmd.MarkFlagsMutuallyExclusive("config", "pretrained")
}

func (f *modelFlags) loadConfig() (model.Config, error) {
	switch {
	case f.pretrained != "":
		return model.PretrainedConfig(f.pretrained)
	case f.config != "":
		return model.LoadConfig(f.config)
	}
	return model.DefaultConfig(), nil
}

func (f *modelFlags) loadTokenizer(config model.Config) (*tokenizer.WordPieceTokenizer, error) {
	opts := []tokenizer.Option{tokenizer.WithMaxLength(min(f.maxLength, config.MaxPositionEmbeddings))}
	if f.cased {
		opts = append(opts, tokenizer.WithCased())
	}
	tok, err := tokenizer.NewWordPieceTokenizer(f.vocab, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	if tok.VocabSize() > config.VocabSize {
		log.Warn().Int("vocab", tok.VocabSize()).Int("vocab_size", config.VocabSize).Msg("Vocab file is larger than the embedding table")
	}
	return tok, nil
}

// loadWeights fills m from f.checkpoint, converting PyTorch files first.
func (f *modelFlags) loadWeights(ctx context.Context, m model.Parameterized) error {
	if f.checkpoint == "" {
		log.Warn().Msg("No checkpoint given, using random initialization")
		return nil
	}
	path := f.checkpoint
	if filepath.Ext(path) == ".bin" {
		converted, err := checkpoint.TorchToNative(ctx, path)
		if err != nil {
			return err
		}
		path = converted
	}
	report, err := checkpoint.Load(path, m)
	if err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}
	log.Info().
		Str("path", path).
		Int("loaded", len(report.Loaded)).
		Int("missing", len(report.Missing)).
		Int("unexpected", len(report.Unexpected)).
		Msg("Loaded checkpoint")
	return nil
}

func (f *modelFlags) newEmbedder(ctx context.Context, opts ...embeddings.Option) (*embeddings.Embedder, error) {
	config, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	tok, err := f.loadTokenizer(config)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModel(config, device.NewCPUBackend(), model.WithSeed(f.seed))
	if err != nil {
		return nil, err
	}
	if err := f.loadWeights(ctx, m); err != nil {
		return nil, err
	}
	opts = append(opts, embeddings.WithBatchSize(f.batchSize))
	return embeddings.NewEmbedder(m, tok, opts...), nil
}

func (f *modelFlags) newClassifier(ctx context.Context) (*embeddings.Classifier, error) {
	config, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	tok, err := f.loadTokenizer(config)
	if err != nil {
		return nil, err
	}
	m, err := model.NewForSequenceClassification(config, device.NewCPUBackend(), model.WithSeed(f.seed))
	if err != nil {
		return nil, err
	}
	if err := f.loadWeights(ctx, m); err != nil {
		return nil, err
	}
	return embeddings.NewClassifier(m, tok, embeddings.WithBatchSize(f.batchSize)), nil
}

// readTexts returns args, or one text per non-empty stdin line when args is empty.
func readTexts(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var texts []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	return texts, scanner.Err()
}
