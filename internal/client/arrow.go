package client

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column names of an embedding record.
const (
	TextColumn      = "text"
	EmbeddingColumn = "embedding"
)

var (
	// ErrRaggedEmbeddings is returned when vectors differ in length or do not
	// line up with their texts.
	ErrRaggedEmbeddings = errors.New("embeddings do not form a rectangular batch")
	// ErrNoTextColumn is returned when a record has no string column to embed.
	ErrNoTextColumn = errors.New("record has no text column")
)

// EmbeddingSchema is the (text, embedding) schema for vectors of width dim.
func EmbeddingSchema(dim int) *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: TextColumn, Type: arrow.BinaryTypes.String},
			{Name: EmbeddingColumn, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// RecordBatchBuilder creates Arrow record batches from pooled outputs.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// Build pairs each text with its vector. It returns nil for an empty batch.
func (b *RecordBatchBuilder) Build(texts []string, vectors [][]float32) (arrow.RecordBatch, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("%w: %d texts, %d vectors", ErrRaggedEmbeddings, len(texts), len(vectors))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has width %d, want %d", ErrRaggedEmbeddings, i, len(v), dim)
		}
	}

	textBuilder := array.NewStringBuilder(b.mem)
	defer textBuilder.Release()
	textBuilder.AppendValues(texts, nil)

	embedBuilder := array.NewFixedSizeListBuilder(b.mem, int32(dim), arrow.PrimitiveTypes.Float32)
	defer embedBuilder.Release()
	valueBuilder := embedBuilder.ValueBuilder().(*array.Float32Builder)
	valueBuilder.Reserve(len(vectors) * dim)
	for _, v := range vectors {
		embedBuilder.Append(true)
		valueBuilder.AppendValues(v, nil)
	}

	textArr := textBuilder.NewArray()
	defer textArr.Release()
	embedArr := embedBuilder.NewArray()
	defer embedArr.Release()

	return array.NewRecordBatch(EmbeddingSchema(dim), []arrow.Array{textArr, embedArr}, int64(len(texts))), nil
}

// Texts extracts the strings to embed from a record: the "text" column when
// present, otherwise the first column.
func Texts(rec arrow.RecordBatch) ([]string, error) {
	if rec.NumCols() == 0 {
		return nil, ErrNoTextColumn
	}
	col := rec.Column(0)
	if indices := rec.Schema().FieldIndices(TextColumn); len(indices) > 0 {
		col = rec.Column(indices[0])
	}

	texts := make([]string, col.Len())
	switch arr := col.(type) {
	case *array.String:
		for i := range texts {
			texts[i] = arr.Value(i)
		}
	case *array.LargeString:
		for i := range texts {
			texts[i] = arr.Value(i)
		}
	case *array.Binary:
		for i := range texts {
			texts[i] = string(arr.Value(i))
		}
	default:
		return nil, fmt.Errorf("%w: column type %s", ErrNoTextColumn, col.DataType())
	}
	return texts, nil
}

// WriteStream writes records as an Arrow IPC stream sharing the first
// record's schema.
func WriteStream(w io.Writer, recs ...arrow.RecordBatch) error {
	if len(recs) == 0 {
		return nil
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}
