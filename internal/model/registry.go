package model

import (
	"fmt"
	"sort"
	"strings"
)

// URLBase is the download location template, filled with the model family and name.
const URLBase = "https://download.mindspore.cn/toolkits/mindnlp/models/%s/%s/bert.ckpt"

// SupportedModels lists the pretrained checkpoints published for this architecture.
var SupportedModels = []string{
	"bert-base-uncased",
	"bert-large-uncased",
	"bert-base-cased",
	"bert-large-cased",
	"bert-base-multilingual-uncased",
	"bert-base-multilingual-cased",
	"bert-base-chinese",
	"bert-base-german-cased",
	"bert-large-uncased-whole-word-masking",
	"bert-large-cased-whole-word-masking",
}

// PretrainedArchiveMap maps each supported name to its checkpoint URL.
var PretrainedArchiveMap = func() map[string]string {
	m := make(map[string]string, len(SupportedModels))
	for _, name := range SupportedModels {
		m[name] = fmt.Sprintf(URLBase, "bert", name)
	}
	return m
}()

// PretrainedNames returns the registry keys in sorted order.
func PretrainedNames() []string {
	names := make([]string, 0, len(PretrainedArchiveMap))
	for name := range PretrainedArchiveMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PretrainedConfig returns the architecture of a supported checkpoint.
func PretrainedConfig(name string) (Config, error) {
	if _, ok := PretrainedArchiveMap[name]; !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	cfg := DefaultConfig()
	if strings.HasPrefix(name, "bert-large") {
		cfg.HiddenSize = 1024
		cfg.NumHiddenLayers = 24
		cfg.NumAttentionHeads = 16
		cfg.IntermediateSize = 4096
	}
	switch name {
	case "bert-base-cased", "bert-large-cased", "bert-large-cased-whole-word-masking":
		cfg.VocabSize = 28996
	case "bert-base-multilingual-uncased":
		cfg.VocabSize = 105879
	case "bert-base-multilingual-cased":
		cfg.VocabSize = 119547
	case "bert-base-chinese":
		cfg.VocabSize = 21128
	case "bert-base-german-cased":
		cfg.VocabSize = 30000
	}
	return cfg, nil
}
