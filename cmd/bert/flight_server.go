package main

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bert/internal/client"
)

// BertFlightServer embeds text records sent through DoExchange and streams
// back (text, embedding) records.
type BertFlightServer struct {
	flight.BaseFlightServer
	srv *Server
}

func NewBertFlightServer(srv *Server) *BertFlightServer {
	return &BertFlightServer{srv: srv}
}

func (s *BertFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx := stream.Context()
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.srv.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.EmbeddingSchema(s.srv.embedder.Dim())))
	defer writer.Close()

	for reader.Next() {
		texts, err := client.Texts(reader.Record())
		if err != nil {
			return err
		}
		vectors, err := s.srv.embed(ctx, texts)
		if err != nil {
			return err
		}
		rec, err := s.srv.builder.Build(texts, vectors)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
		log.Debug().Int("rows", len(texts)).Msg("DoExchange embedded batch")
	}
	return reader.Err()
}

// newFlightServer registers the exchange service; the caller runs Init and Serve.
func newFlightServer(srv *Server) flight.Server {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewBertFlightServer(srv))
	return server
}
