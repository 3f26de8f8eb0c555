package client

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.Build(nil, nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Ragged input", func(t *testing.T) {
		_, err := builder.Build([]string{"a", "b"}, [][]float32{{1, 2}, {3}})
		assert.ErrorIs(t, err, ErrRaggedEmbeddings)

		_, err = builder.Build([]string{"a"}, [][]float32{{1}, {2}})
		assert.ErrorIs(t, err, ErrRaggedEmbeddings)
	})

	t.Run("Valid input", func(t *testing.T) {
		rb, err := builder.Build(
			[]string{"hello", "world"},
			[][]float32{{1, 2, 3}, {4, 5, 6}},
		)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumRows())
		assert.Equal(t, int64(2), rb.NumCols())
		assert.Equal(t, TextColumn, rb.ColumnName(0))
		assert.Equal(t, EmbeddingColumn, rb.ColumnName(1))

		texts, err := Texts(rb)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello", "world"}, texts)

		list := rb.Column(1).(*array.FixedSizeList)
		values := list.ListValues().(*array.Float32)
		assert.Equal(t, 6, values.Len())
		assert.Equal(t, float32(1), values.Value(0))
		assert.Equal(t, float32(6), values.Value(5))
	})
}

func TestTexts(t *testing.T) {
	pool := memory.NewGoAllocator()

	t.Run("Binary column", func(t *testing.T) {
		b := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
		defer b.Release()
		b.AppendValues([][]byte{[]byte("a"), []byte("b")}, nil)
		arr := b.NewArray()
		defer arr.Release()
		schema := arrow.NewSchema([]arrow.Field{{Name: "payload", Type: arrow.BinaryTypes.Binary}}, nil)
		rec := array.NewRecordBatch(schema, []arrow.Array{arr}, 2)
		defer rec.Release()

		texts, err := Texts(rec)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, texts)
	})

	t.Run("Numeric column", func(t *testing.T) {
		b := array.NewInt64Builder(pool)
		defer b.Release()
		b.Append(1)
		arr := b.NewArray()
		defer arr.Release()
		schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
		rec := array.NewRecordBatch(schema, []arrow.Array{arr}, 1)
		defer rec.Release()

		_, err := Texts(rec)
		assert.ErrorIs(t, err, ErrNoTextColumn)
	})
}

func TestWriteStream(t *testing.T) {
	pool := memory.NewGoAllocator()
	rb, err := NewRecordBatchBuilder(pool).Build([]string{"x"}, [][]float32{{0.5, -0.5}})
	require.NoError(t, err)
	defer rb.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteStream(&buf, rb, rb))

	reader, err := ipc.NewReader(&buf, ipc.WithAllocator(pool))
	require.NoError(t, err)
	defer reader.Release()

	var rows int64
	for reader.Next() {
		rows += reader.Record().NumRows()
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, int64(2), rows)
	assert.True(t, reader.Schema().Equal(EmbeddingSchema(2)))
}
