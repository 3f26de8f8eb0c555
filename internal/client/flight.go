package client

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Option customises a FlightClient.
type Option func(*FlightClient)

// WithBreaker replaces the default breaker (5 failures, 30s cool-down).
func WithBreaker(cb *CircuitBreaker) Option {
	return func(c *FlightClient) {
		c.breaker = cb
	}
}

// WithAllocator sets the allocator used to build embedding records.
func WithAllocator(mem memory.Allocator) Option {
	return func(c *FlightClient) {
		c.builder = NewRecordBatchBuilder(mem)
	}
}

// FlightClient ships pooled embeddings to a Longbow server via Apache Flight.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string, opts ...Option) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	c := &FlightClient{
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		builder: NewRecordBatchBuilder(memory.DefaultAllocator),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DoPut sends a record batch to the named dataset. It fails fast with
// ErrCircuitOpen while the server is considered down.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	err := c.breaker.Execute(func() error {
		return c.doPut(ctx, datasetName, record)
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		log.Warn().Err(err).Str("dataset", datasetName).Str("circuit", c.breaker.State().String()).Msg("Flight DoPut failed")
	}
	return err
}

func (c *FlightClient) doPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	// Drain acks so server-side failures surface here.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// PutEmbeddings builds a (text, embedding) record and sends it.
func (c *FlightClient) PutEmbeddings(ctx context.Context, datasetName string, texts []string, vectors [][]float32) error {
	rec, err := c.builder.Build(texts, vectors)
	if err != nil || rec == nil {
		return err
	}
	defer rec.Release()
	return c.DoPut(ctx, datasetName, rec)
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
