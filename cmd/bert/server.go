package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-bert/internal/client"
	"github.com/23skdu/longbow-bert/internal/embeddings"
)

var (
	vectorsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_vectors_processed_total",
		Help: "The total number of vectors embedded by the server",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bert_request_duration_seconds",
		Help:    "Time spent processing encode requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	forwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_forward_to_longbow_errors_total",
		Help: "Chunks that could not be forwarded to Longbow",
	})
)

var tracer = otel.Tracer("longbow-bert/server")

type EmbedderInterface interface {
	EmbedBatch(ctx context.Context, texts []string) <-chan embeddings.StreamResult
	Dim() int
}

type FlightClientInterface interface {
	PutEmbeddings(ctx context.Context, datasetName string, texts []string, vectors [][]float32) error
	Close() error
}

type Server struct {
	embedder      EmbedderInterface
	flightClient  FlightClientInterface
	datasetName   string
	alloc         memory.Allocator
	builder       *client.RecordBatchBuilder
	sem           *semaphore.Weighted
	maxConcurrent int64
	maxBody       int64
}

// NewServer bounds in-flight sequences by maxConcurrent and request bodies
// by maxBody bytes (0 for no limit). fc may be nil.
func NewServer(embedder EmbedderInterface, fc FlightClientInterface, dataset string, maxConcurrent int, maxBody int64) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	alloc := memory.NewGoAllocator()
	return &Server{
		embedder:      embedder,
		flightClient:  fc,
		datasetName:   dataset,
		alloc:         alloc,
		builder:       client.NewRecordBatchBuilder(alloc),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: int64(maxConcurrent),
		maxBody:       maxBody,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/encode", s.handleEncode)
	mux.HandleFunc("/encode/arrow", s.handleEncodeArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// embed runs texts through the model under admission control, forwarding
// each chunk to Longbow when a flight client is configured.
func (s *Server) embed(ctx context.Context, texts []string) ([][]float32, error) {
	weight := min(int64(len(texts)), s.maxConcurrent)
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	defer s.sem.Release(weight)

	vectors := make([][]float32, len(texts))
	done := 0
	for chunk := range s.embedder.EmbedBatch(ctx, texts) {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		copy(vectors[chunk.Offset:], chunk.Vectors)
		done += chunk.Count

		if s.flightClient != nil {
			chunkTexts := texts[chunk.Offset : chunk.Offset+chunk.Count]
			if err := s.flightClient.PutEmbeddings(ctx, s.datasetName, chunkTexts, chunk.Vectors); err != nil {
				forwardErrors.Inc()
				log.Error().Err(err).Int("offset", chunk.Offset).Msg("Error forwarding chunk to Longbow")
			}
		}
	}
	if done != len(texts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embedded %d of %d texts", done, len(texts))
	}
	vectorsProcessed.Add(float64(len(texts)))
	return vectors, nil
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncode")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.body(w, r)

	var texts []string
	if err := cbor.NewDecoder(r.Body).Decode(&texts); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(texts)))

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		writeEmbedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(vectors); err != nil {
		log.Warn().Err(err).Msg("Failed to write CBOR response")
	}
}

func (s *Server) handleEncodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncodeArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("encode_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.body(w, r)

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	// Embed everything before writing so errors can still set the status.
	var (
		allTexts   []string
		allVectors [][]float32
	)
	for reader.Next() {
		texts, err := client.Texts(reader.Record())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vectors, err := s.embed(ctx, texts)
		if err != nil {
			span.RecordError(err)
			writeEmbedError(w, err)
			return
		}
		allTexts = append(allTexts, texts...)
		allVectors = append(allVectors, vectors...)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(allTexts)))

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	writer := ipc.NewWriter(w, ipc.WithSchema(client.EmbeddingSchema(s.embedder.Dim())), ipc.WithAllocator(s.alloc))
	defer func() {
		if err := writer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Arrow stream")
		}
	}()

	rec, err := s.builder.Build(allTexts, allVectors)
	if err != nil || rec == nil {
		return
	}
	defer rec.Release()
	if err := writer.Write(rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write Arrow record")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeEmbedError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	log.Error().Err(err).Msg("Inference failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
