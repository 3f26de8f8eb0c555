package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bert/internal/cache"
	"github.com/23skdu/longbow-bert/internal/client"
	"github.com/23skdu/longbow-bert/internal/embeddings"
)

// parseBytes parses sizes such as 4GB, 512MB, 64K or 1024.
func parseBytes(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30}, {"G", 1 << 30},
		{"MB", 1 << 20}, {"M", 1 << 20},
		{"KB", 1 << 10}, {"K", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			s = strings.TrimSuffix(s, unit.suffix)
			multiplier = unit.mult
			break
		}
	}
	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid size %q", orig)
	}
	return val * multiplier, nil
}

func newServeCmd() *cobra.Command {
	var (
		mf            modelFlags
		listenAddr    string
		flightAddr    string
		serverAddr    string
		datasetName   string
		maxConcurrent int
		maxBody       string
		cacheSize     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pooled outputs over HTTP and Arrow Flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bodyLimit, err := parseBytes(maxBody)
			if err != nil {
				return fmt.Errorf("--max-body: %w", err)
			}

			var opts []embeddings.Option
			if cacheSize > 0 {
				opts = append(opts, embeddings.WithCache(cache.NewMapCache(cacheSize)))
			}
			embedder, err := mf.newEmbedder(ctx, opts...)
			if err != nil {
				return err
			}

			var fc FlightClientInterface
			if serverAddr != "" {
				c, err := client.NewFlightClient(serverAddr)
				if err != nil {
					return fmt.Errorf("failed to create flight client: %w", err)
				}
				defer c.Close()
				log.Info().Str("addr", serverAddr).Str("dataset", datasetName).Msg("Forwarding to Longbow")
				fc = c
			}

			srv := NewServer(embedder, fc, datasetName, maxConcurrent, bodyLimit)
			log.Info().Str("max_body", maxBody).Int64("bytes", bodyLimit).Int("max_concurrent", maxConcurrent).Msg("Admission control")
			return runServers(ctx, srv, listenAddr, flightAddr)
		},
	}

	mf.register(cmd)
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Address to listen on for HTTP")
	cmd.Flags().StringVar(&flightAddr, "flight", "", "Address to listen on for Flight DoExchange (e.g. :9090)")
	cmd.Flags().StringVar(&serverAddr, "server", "", "Longbow server address to forward embeddings to")
	cmd.Flags().StringVar(&datasetName, "dataset", "bert_dataset", "Target dataset name on server")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 1024, "Maximum number of concurrent sequences to process")
	cmd.Flags().StringVar(&maxBody, "max-body", "32MB", "Maximum request body size (e.g. 32MB, 512K)")
	cmd.Flags().IntVar(&cacheSize, "cache", 0, "Cache up to N pooled outputs keyed by token ids")
	return cmd
}

func runServers(ctx context.Context, srv *Server, listenAddr, flightAddr string) error {
	var fs flight.Server
	if flightAddr != "" {
		fs = newFlightServer(srv)
		if err := fs.Init(flightAddr); err != nil {
			return fmt.Errorf("failed to init Flight server: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", listenAddr).Msg("Starting BERT HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if fs != nil {
		g.Go(func() error {
			log.Info().Str("addr", fs.Addr().String()).Msg("Starting BERT Flight server")
			return fs.Serve()
		})
		g.Go(func() error {
			<-ctx.Done()
			fs.Shutdown()
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
