package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-bert/internal/model"
)

func newRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "registry",
		Aliases: []string{"ls"},
		Short:   "List pretrained checkpoints and their download URLs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, name := range model.PretrainedNames() {
				cfg, err := model.PretrainedConfig(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-40s layers=%-2d hidden=%-4d vocab=%-6d %s\n",
					name, cfg.NumHiddenLayers, cfg.HiddenSize, cfg.VocabSize, model.PretrainedArchiveMap[name])
			}
			return nil
		},
	}
}
