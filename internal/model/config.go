package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bert/internal/nn"
)

// Problem types understood by ForSequenceClassification.
const (
	ProblemRegression                = "regression"
	ProblemSingleLabelClassification = "single_label_classification"
	ProblemMultiLabelClassification  = "multi_label_classification"
)

// Config holds the BERT hyperparameters. JSON names follow config.json files
// published alongside pretrained checkpoints.
type Config struct {
	VocabSize                 int      `json:"vocab_size"`
	HiddenSize                int      `json:"hidden_size"`
	NumHiddenLayers           int      `json:"num_hidden_layers"`
	NumAttentionHeads         int      `json:"num_attention_heads"`
	IntermediateSize          int      `json:"intermediate_size"`
	HiddenAct                 string   `json:"hidden_act"`
	HiddenDropoutProb         float64  `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64  `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int      `json:"max_position_embeddings"`
	TypeVocabSize             int      `json:"type_vocab_size"`
	InitializerRange          float64  `json:"initializer_range"`
	LayerNormEps              float64  `json:"layer_norm_eps"`
	OutputAttentions          bool     `json:"output_attentions"`
	OutputHiddenStates        bool     `json:"output_hidden_states"`
	NumLabels                 int      `json:"num_labels"`
	ProblemType               string   `json:"problem_type,omitempty"`
	ClassifierDropout         *float64 `json:"classifier_dropout,omitempty"`
}

// DefaultConfig returns the bert-base-uncased architecture.
func DefaultConfig() Config {
	return Config{
		VocabSize:                 30522,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
		NumLabels:                 2,
	}
}

// LoadConfig reads a JSON config. Fields absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// HeadSize is the width of a single attention head.
func (c Config) HeadSize() int {
	return c.HiddenSize / c.NumAttentionHeads
}

// Activation resolves HiddenAct.
func (c Config) Activation() (nn.Activation, error) {
	return nn.ParseActivation(c.HiddenAct)
}

// ClassifierDropoutProb is classifier_dropout when set and hidden_dropout_prob otherwise.
func (c Config) ClassifierDropoutProb() float64 {
	if c.ClassifierDropout != nil {
		return *c.ClassifierDropout
	}
	return c.HiddenDropoutProb
}

// ResolvedProblemType returns ProblemType, or the type implied by NumLabels
// when it is empty.
func (c Config) ResolvedProblemType() string {
	if c.ProblemType != "" {
		return c.ProblemType
	}
	if c.NumLabels == 1 {
		return ProblemRegression
	}
	return ProblemSingleLabelClassification
}

// Validate reports the first reason the config cannot build a model.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"vocab_size", c.VocabSize},
		{"hidden_size", c.HiddenSize},
		{"num_hidden_layers", c.NumHiddenLayers},
		{"num_attention_heads", c.NumAttentionHeads},
		{"intermediate_size", c.IntermediateSize},
		{"max_position_embeddings", c.MaxPositionEmbeddings},
		{"type_vocab_size", c.TypeVocabSize},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.v)
		}
	}

	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return fmt.Errorf("%w: hidden_size %d, num_attention_heads %d", ErrHeadsNotDivisible, c.HiddenSize, c.NumAttentionHeads)
	}

	probs := []struct {
		name string
		v    float64
	}{
		{"hidden_dropout_prob", c.HiddenDropoutProb},
		{"attention_probs_dropout_prob", c.AttentionProbsDropoutProb},
		{"classifier_dropout", c.ClassifierDropoutProb()},
	}
	for _, p := range probs {
		if p.v < 0 || p.v >= 1 {
			return fmt.Errorf("%w: %s must be in [0, 1), got %g", ErrInvalidConfig, p.name, p.v)
		}
	}

	if c.LayerNormEps <= 0 {
		return fmt.Errorf("%w: layer_norm_eps must be positive, got %g", ErrInvalidConfig, c.LayerNormEps)
	}
	if c.InitializerRange < 0 {
		return fmt.Errorf("%w: initializer_range must not be negative, got %g", ErrInvalidConfig, c.InitializerRange)
	}
	if _, err := c.Activation(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.ProblemType {
	case "", ProblemRegression, ProblemSingleLabelClassification, ProblemMultiLabelClassification:
	default:
		return fmt.Errorf("%w: problem_type %q", ErrInvalidConfig, c.ProblemType)
	}
	if c.NumLabels < 0 {
		return fmt.Errorf("%w: num_labels must not be negative, got %d", ErrInvalidConfig, c.NumLabels)
	}
	return nil
}
