package model

import (
	"fmt"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// Embeddings sums word, position and token type embeddings, then normalises.
type Embeddings struct {
	Config              Config
	Backend             device.Backend
	WordEmbeddings      *nn.Embedding
	PositionEmbeddings  *nn.Embedding
	TokenTypeEmbeddings *nn.Embedding
	LayerNorm           *nn.LayerNorm
	Dropout             *nn.Dropout
}

func NewEmbeddings(config Config, backend device.Backend) *Embeddings {
	return &Embeddings{
		Config:              config,
		Backend:             backend,
		WordEmbeddings:      nn.NewEmbedding(backend, config.VocabSize, config.HiddenSize),
		PositionEmbeddings:  nn.NewEmbedding(backend, config.MaxPositionEmbeddings, config.HiddenSize),
		TokenTypeEmbeddings: nn.NewEmbedding(backend, config.TypeVocabSize, config.HiddenSize),
		LayerNorm:           nn.NewLayerNorm(backend, config.HiddenSize, float32(config.LayerNormEps)),
		Dropout:             nn.NewDropout(config.HiddenDropoutProb),
	}
}

// Forward embeds a rectangular batch of token ids. tokenTypeIDs defaults to
// all zeros and positionIDs to 0..seq-1 for every row.
func (e *Embeddings) Forward(inputIDs, tokenTypeIDs, positionIDs [][]int) (States, error) {
	batch, seq, err := rectangular("input_ids", inputIDs, -1)
	if err != nil {
		return States{}, err
	}
	if tokenTypeIDs != nil {
		if _, _, err := rectangular("token_type_ids", tokenTypeIDs, seq); err != nil {
			return States{}, err
		}
		if len(tokenTypeIDs) != batch {
			return States{}, fmt.Errorf("%w: token_type_ids has %d rows, input_ids %d", ErrInvalidInput, len(tokenTypeIDs), batch)
		}
	}
	if positionIDs != nil {
		if _, _, err := rectangular("position_ids", positionIDs, seq); err != nil {
			return States{}, err
		}
		if len(positionIDs) != batch {
			return States{}, fmt.Errorf("%w: position_ids has %d rows, input_ids %d", ErrInvalidInput, len(positionIDs), batch)
		}
	}

	total := batch * seq
	words := make([]int, 0, total)
	positions := make([]int, 0, total)
	types := make([]int, 0, total)
	for b := 0; b < batch; b++ {
		words = append(words, inputIDs[b]...)
		for s := 0; s < seq; s++ {
			if positionIDs != nil {
				positions = append(positions, positionIDs[b][s])
			} else {
				positions = append(positions, s)
			}
			if tokenTypeIDs != nil {
				types = append(types, tokenTypeIDs[b][s])
			} else {
				types = append(types, 0)
			}
		}
	}

	embeddings, err := e.WordEmbeddings.Forward(words)
	if err != nil {
		return States{}, fmt.Errorf("%w: input_ids: %w", ErrInvalidInput, err)
	}
	posEmbeds, err := e.PositionEmbeddings.Forward(positions)
	if err != nil {
		return States{}, fmt.Errorf("%w: position_ids: %w", ErrInvalidInput, err)
	}
	typeEmbeds, err := e.TokenTypeEmbeddings.Forward(types)
	if err != nil {
		return States{}, fmt.Errorf("%w: token_type_ids: %w", ErrInvalidInput, err)
	}
	embeddings.Add(posEmbeds)
	embeddings.Add(typeEmbeds)

	output := e.LayerNorm.Forward(embeddings)
	output = e.Dropout.Forward(output)

	return States{Tensor: output, BatchSize: batch, SeqLen: seq}, nil
}

// rectangular checks that rows is a non-empty batch of equal-length rows and
// returns its dimensions. A non-negative want pins the row length.
func rectangular(name string, rows [][]int, want int) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
	}
	seq := want
	if seq < 0 {
		seq = len(rows[0])
	}
	if seq == 0 {
		return 0, 0, fmt.Errorf("%w: %s has zero-length rows", ErrInvalidInput, name)
	}
	for i, row := range rows {
		if len(row) != seq {
			return 0, 0, fmt.Errorf("%w: %s row %d has length %d, want %d", ErrInvalidInput, name, i, len(row), seq)
		}
	}
	return len(rows), seq, nil
}
