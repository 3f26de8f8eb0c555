package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-bert/internal/checkpoint"
)

func newConvertCmd() *cobra.Command {
	var fp16 bool
	cmd := &cobra.Command{
		Use:   "convert PYTORCH_MODEL_BIN",
		Short: "Convert a PyTorch state dict to a native checkpoint",
		Long: "Convert a PyTorch BERT state dict to the native CBOR checkpoint format.\n" +
			"pytorch_model.bin is written as bert.ckpt next to it; any other file gets a .ckpt suffix.\n" +
			"An existing output file is left untouched.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []checkpoint.ConvertOption
			if fp16 {
				opts = append(opts, checkpoint.WithFloat16())
			}
			path, err := checkpoint.TorchToNative(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fp16, "fp16", false, "Store tensors as float16")
	return cmd
}
