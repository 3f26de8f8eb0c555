package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-bert/internal/cache"
	"github.com/23skdu/longbow-bert/internal/client"
	"github.com/23skdu/longbow-bert/internal/embeddings"
)

func newEmbedCmd() *cobra.Command {
	var (
		mf          modelFlags
		outPath     string
		serverAddr  string
		datasetName string
		lorem       int
		cacheSize   int
	)

	cmd := &cobra.Command{
		Use:   "embed [TEXT...]",
		Short: "Write pooled outputs as an Arrow IPC stream or send them to Longbow",
		Long: "Embed texts given as arguments, or one per stdin line, and write (text, embedding)\n" +
			"records as an Arrow IPC stream. With --server the records are sent via Flight DoPut instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			texts := embeddings.GenerateLorem(lorem, time.Now().UnixNano())
			if lorem == 0 {
				var err error
				if texts, err = readTexts(cmd, args); err != nil {
					return err
				}
			}
			if len(texts) == 0 {
				return fmt.Errorf("no input texts")
			}

			var opts []embeddings.Option
			if cacheSize > 0 {
				opts = append(opts, embeddings.WithCache(cache.NewMapCache(cacheSize)))
			}
			embedder, err := mf.newEmbedder(ctx, opts...)
			if err != nil {
				return err
			}

			if serverAddr != "" {
				return sendToLongbow(ctx, embedder, serverAddr, datasetName, texts)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer func() {
					if err := f.Close(); err != nil {
						log.Warn().Err(err).Msg("Failed to close output file")
					}
				}()
				w = f
			}
			return writeArrow(ctx, embedder, w, texts)
		},
	}

	mf.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Arrow IPC output file (- for stdout)")
	cmd.Flags().StringVar(&serverAddr, "server", "", "Longbow server address (e.g., localhost:3000)")
	cmd.Flags().StringVar(&datasetName, "dataset", "bert_dataset", "Target dataset name on server")
	cmd.Flags().IntVar(&lorem, "lorem", 0, "Embed N generated lorem ipsum paragraphs instead of input texts")
	cmd.Flags().IntVar(&cacheSize, "cache", 0, "Cache up to N pooled outputs keyed by token ids")
	cmd.MarkFlagsMutuallyExclusive("out", "server")
	return cmd
}

func writeArrow(ctx context.Context, embedder *embeddings.Embedder, w io.Writer, texts []string) error {
	start := time.Now()
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	logThroughput(len(texts), embedder.Dim(), time.Since(start))

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).Build(texts, vectors)
	if err != nil {
		return err
	}
	defer rec.Release()
	return client.WriteStream(w, rec)
}

func sendToLongbow(ctx context.Context, embedder *embeddings.Embedder, addr, dataset string, texts []string) error {
	fc, err := client.NewFlightClient(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to Longbow: %w", err)
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	log.Info().Int("count", len(texts)).Str("server", addr).Str("dataset", dataset).Msg("Sending vectors to Longbow")
	start := time.Now()
	for chunk := range embedder.EmbedBatch(ctx, texts) {
		if chunk.Err != nil {
			return chunk.Err
		}
		chunkTexts := texts[chunk.Offset : chunk.Offset+chunk.Count]
		if err := fc.PutEmbeddings(ctx, dataset, chunkTexts, chunk.Vectors); err != nil {
			return fmt.Errorf("flight DoPut failed: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logThroughput(len(texts), embedder.Dim(), time.Since(start))
	log.Info().Msg("Successfully sent embeddings to Longbow")
	return nil
}

func logThroughput(count, dim int, elapsed time.Duration) {
	log.Info().
		Int("count", count).
		Dur("elapsed", elapsed).
		Int("dim", dim).
		Float64("tps", float64(count)/elapsed.Seconds()).
		Msg("Embedded sequences")
}
