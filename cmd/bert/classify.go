package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

type classifyResult struct {
	Text          string    `json:"text"`
	Label         int       `json:"label"`
	Logits        []float32 `json:"logits"`
	Probabilities []float32 `json:"probabilities,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	var mf modelFlags

	cmd := &cobra.Command{
		Use:   "classify [TEXT...]",
		Short: "Print logits and the predicted label for each text as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			texts, err := readTexts(cmd, args)
			if err != nil {
				return err
			}

			classifier, err := mf.newClassifier(ctx)
			if err != nil {
				return err
			}
			preds, err := classifier.Classify(ctx, texts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i, p := range preds {
				if err := enc.Encode(classifyResult{
					Text:          texts[i],
					Label:         p.Label,
					Logits:        p.Logits,
					Probabilities: p.Probabilities,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	mf.register(cmd)
	return cmd
}
