package model

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// Parameter is a named, trainable tensor. Names follow the converted
// checkpoint layout, e.g. "encoder.layer.0.attention.self_attn.query.weight".
type Parameter struct {
	Name   string
	Tensor device.Tensor
}

// Parameterized is implemented by every loadable model.
type Parameterized interface {
	NamedParameters() []Parameter
}

func withPrefix(prefix string, params []Parameter) []Parameter {
	out := make([]Parameter, len(params))
	for i, p := range params {
		out[i] = Parameter{Name: prefix + p.Name, Tensor: p.Tensor}
	}
	return out
}

func linearParams(name string, l *nn.Linear) []Parameter {
	params := []Parameter{{Name: name + ".weight", Tensor: l.Weight}}
	if l.Bias != nil {
		params = append(params, Parameter{Name: name + ".bias", Tensor: l.Bias})
	}
	return params
}

func layerNormParams(name string, ln *nn.LayerNorm) []Parameter {
	return []Parameter{
		{Name: name + ".gamma", Tensor: ln.Gamma},
		{Name: name + ".beta", Tensor: ln.Beta},
	}
}

func embeddingParams(name string, e *nn.Embedding) []Parameter {
	return []Parameter{{Name: name + ".embedding_table", Tensor: e.Table}}
}

func (e *Embeddings) NamedParameters() []Parameter {
	var params []Parameter
	params = append(params, embeddingParams("word_embeddings", e.WordEmbeddings)...)
	params = append(params, embeddingParams("position_embeddings", e.PositionEmbeddings)...)
	params = append(params, embeddingParams("token_type_embeddings", e.TokenTypeEmbeddings)...)
	params = append(params, layerNormParams("layer_norm", e.LayerNorm)...)
	return params
}

func (l *Layer) NamedParameters() []Parameter {
	var params []Parameter
	self := l.Attention.Self
	params = append(params, linearParams("attention.self_attn.query", self.Query)...)
	params = append(params, linearParams("attention.self_attn.key", self.Key)...)
	params = append(params, linearParams("attention.self_attn.value", self.Value)...)
	params = append(params, linearParams("attention.output.dense", l.Attention.Output.Dense)...)
	params = append(params, layerNormParams("attention.output.layer_norm", l.Attention.Output.LayerNorm)...)
	params = append(params, linearParams("intermediate.dense", l.Intermediate.Dense)...)
	params = append(params, linearParams("output.dense", l.Output.Dense)...)
	params = append(params, layerNormParams("output.layer_norm", l.Output.LayerNorm)...)
	return params
}

func (e *Encoder) NamedParameters() []Parameter {
	var params []Parameter
	for i, layer := range e.Layers {
		params = append(params, withPrefix("layer."+strconv.Itoa(i)+".", layer.NamedParameters())...)
	}
	return params
}

func (h *PreTrainingHeads) NamedParameters() []Parameter {
	var params []Parameter
	t := h.Predictions.Transform
	params = append(params, linearParams("predictions.transform.dense", t.Dense)...)
	params = append(params, layerNormParams("predictions.transform.layer_norm", t.LayerNorm)...)
	params = append(params, linearParams("predictions.decoder", h.Predictions.Decoder)...)
	params = append(params, Parameter{Name: "predictions.bias", Tensor: h.Predictions.Bias})
	params = append(params, linearParams("seq_relationship", h.SeqRelationship)...)
	return params
}

// initParameters draws dense weights and embedding tables from
// N(0, std²). Biases stay zero and LayerNorm stays at gamma 1, beta 0.
// Tensors shared under several names are initialised once.
func initParameters(params []Parameter, rng *rand.Rand, std float64) {
	seen := make(map[device.Tensor]bool, len(params))
	normal := nn.Normal(std)
	for _, p := range params {
		if seen[p.Tensor] {
			continue
		}
		seen[p.Tensor] = true
		if strings.HasSuffix(p.Name, ".weight") || strings.HasSuffix(p.Name, ".embedding_table") {
			nn.Init(p.Tensor, rng, normal)
		}
	}
}
