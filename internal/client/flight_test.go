package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingFlightServer struct {
	flight.BaseFlightServer

	mu    sync.Mutex
	path  []string
	rows  int64
	texts []string
	fail  bool
}

func (s *recordingFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	if s.fail {
		return status.Error(codes.Unavailable, "longbow is down")
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		texts, err := Texts(rec)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.rows += rec.NumRows()
		s.texts = append(s.texts, texts...)
		if desc := reader.LatestFlightDescriptor(); desc != nil {
			s.path = desc.Path
		}
		s.mu.Unlock()
	}
	return reader.Err()
}

func startFlightServer(t *testing.T, svc flight.FlightServer) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightClient_PutEmbeddings(t *testing.T) {
	svc := &recordingFlightServer{}
	addr := startFlightServer(t, svc)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = client.PutEmbeddings(ctx, "bert-dataset", []string{"hello", "world"}, [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, int64(2), svc.rows)
	assert.Equal(t, []string{"hello", "world"}, svc.texts)
	assert.Equal(t, []string{"bert-dataset"}, svc.path)
}

func TestFlightClient_BreakerOpens(t *testing.T) {
	addr := startFlightServer(t, &recordingFlightServer{fail: true})

	client, err := NewFlightClient(addr, WithBreaker(NewCircuitBreaker(2, time.Hour)))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	put := func() error {
		return client.PutEmbeddings(ctx, "bert-dataset", []string{"x"}, [][]float32{{1}})
	}
	assert.Error(t, put())
	assert.Error(t, put())
	assert.ErrorIs(t, put(), ErrCircuitOpen)
	assert.Equal(t, StateOpen, client.breaker.State())
}

func TestFlightClient_EmptyBatch(t *testing.T) {
	client, err := NewFlightClient("localhost:1")
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.PutEmbeddings(context.Background(), "d", nil, nil))
	assert.Equal(t, StateClosed, client.breaker.State())
}
