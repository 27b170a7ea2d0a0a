//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of TripETL.
//
// TripETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// TripETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with TripETL. If not, see https://www.gnu.org/licenses/.

package load

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/writers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func priceSchema() core.Schema {
	return core.NewSchema(
		core.Field{Name: "currency", Type: core.FieldString, Mode: core.ModeNullable},
		core.Field{Name: "usd_price", Type: core.FieldFloat, Mode: core.ModeNullable},
	)
}

func priceRows() []core.Record {
	return []core.Record{
		{"currency": "bitcoin", "usd_price": 64000.5},
		{"currency": "ethereum", "usd_price": nil},
	}
}

func TestStage_TruncateIsIdempotent(t *testing.T) {
	dest := writers.NewMemoryDestination()
	stage := NewStage(dest)
	ctx := context.Background()

	first, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.BatchDisposition, priceRows())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.RowsWritten)
	assert.NotEmpty(t, first.RunID)
	snapshot := dest.Rows("prices")

	second, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.BatchDisposition, priceRows())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.RowsWritten)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, snapshot, dest.Rows("prices"))
}

func TestStage_AppendAccumulates(t *testing.T) {
	dest := writers.NewMemoryDestination()
	stage := NewStage(dest)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.FetchDisposition, priceRows())
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.RowsWritten)
	}

	rows := dest.Rows("prices")
	require.Len(t, rows, 4)
	assert.Equal(t, "bitcoin", rows[0]["currency"])
	assert.Equal(t, "bitcoin", rows[2]["currency"])
}

func TestStage_SchemaMismatch(t *testing.T) {
	dest := writers.NewMemoryDestination()
	ctx := context.Background()
	stale := core.NewSchema(
		core.Field{Name: "currency", Type: core.FieldString},
		core.Field{Name: "usd_price", Type: core.FieldNumeric},
	)
	require.NoError(t, dest.CreateTable(ctx, "prices", stale))

	_, err := NewStage(dest).LoadSlice(ctx, "prices", priceSchema(), core.FetchDisposition, priceRows())

	var mismatch *core.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"field usd_price: type NUMERIC, want FLOAT"}, mismatch.Diffs)
	assert.Empty(t, dest.Rows("prices"))
}

func TestStage_CreateNever(t *testing.T) {
	dest := writers.NewMemoryDestination()
	disp := core.Disposition{Create: core.CreateNever, Write: core.WriteAppend}

	_, err := NewStage(dest).LoadSlice(context.Background(), "prices", priceSchema(), disp, priceRows())

	var mismatch *core.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.ErrorIs(t, err, core.ErrTableNotFound)
	_, found, _ := dest.TableSchema(context.Background(), "prices")
	assert.False(t, found)
}

func TestStage_UnsetDispositionRejected(t *testing.T) {
	dest := writers.NewMemoryDestination()
	stage := NewStage(dest)
	ctx := context.Background()
	_, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.FetchDisposition, priceRows())
	require.NoError(t, err)

	_, err = stage.LoadSlice(ctx, "prices", priceSchema(), core.Disposition{}, priceRows()[:1])
	assert.ErrorContains(t, err, "WRITE_UNSPECIFIED")
	assert.Len(t, dest.Rows("prices"), len(priceRows()))
}

func TestStage_RejectedRowsWriteNothing(t *testing.T) {
	dest := writers.NewMemoryDestination()
	stage := NewStage(dest, WithMaxRowErrors(2))
	ctx := context.Background()

	_, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.FetchDisposition, priceRows())
	require.NoError(t, err)

	bad := []core.Record{
		{"currency": "cardano", "usd_price": 0.35},
		{"currency": "dogecoin", "usd_price": "cheap"},
		{"currency": 7, "usd_price": 0.1},
		{"currency": "solana", "usd_price": 140.0, "volume": 1},
	}
	res, err := stage.LoadSlice(ctx, "prices", priceSchema(), core.FetchDisposition, bad)

	var rejected *core.RejectedRowsError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, int64(3), rejected.Rejected)
	assert.Len(t, rejected.Rows, 2)
	assert.Equal(t, int64(1), rejected.Rows[0].Index)
	assert.Equal(t, int64(0), res.RowsWritten)
	assert.Len(t, dest.Rows("prices"), 2)
}

type failingDestination struct {
	*writers.MemoryDestination
	schemaErr error
	writeErr  error
}

func (f *failingDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	if f.schemaErr != nil {
		return core.Schema{}, false, f.schemaErr
	}
	return f.MemoryDestination.TableSchema(ctx, table)
}

func (f *failingDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (int64, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.MemoryDestination.Write(ctx, table, schema, mode, rows)
}

func TestStage_DestinationUnavailable(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name string
		dest *failingDestination
		op   string
	}{
		{"schema lookup", &failingDestination{MemoryDestination: writers.NewMemoryDestination(), schemaErr: refused}, "schema"},
		{"write", &failingDestination{MemoryDestination: writers.NewMemoryDestination(), writeErr: refused}, "write"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStage(tt.dest).LoadSlice(context.Background(), "prices", priceSchema(), core.FetchDisposition, priceRows())

			var du *core.DestinationUnavailableError
			require.ErrorAs(t, err, &du)
			assert.Equal(t, tt.op, du.Op)
			assert.ErrorIs(t, err, refused)
			assert.Empty(t, tt.dest.Rows("prices"))
		})
	}
}

func TestStage_SourceErrorAbortsLoad(t *testing.T) {
	dest := writers.NewMemoryDestination()
	boom := errors.New("source went away")
	rows := func(yield func(core.Record, error) bool) {
		if !yield(core.Record{"currency": "bitcoin", "usd_price": 1.0}, nil) {
			return
		}
		yield(nil, boom)
	}

	_, err := NewStage(dest).Load(context.Background(), "prices", priceSchema(), core.BatchDisposition, rows)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, dest.Rows("prices"))
}

func TestStage_LogsCommit(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	stage := NewStage(writers.NewMemoryDestination(), WithLogger(zap.New(obs)))

	res, err := stage.LoadSlice(context.Background(), "prices", priceSchema(), core.FetchDisposition, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RowsWritten)

	assert.Equal(t, 1, logs.FilterMessage("created table").Len())
	committed := logs.FilterMessage("load committed").All()
	require.Len(t, committed, 1)
	assert.Equal(t, res.RunID, committed[0].ContextMap()["run_id"])
	assert.Equal(t, "CREATE_IF_NEEDED/WRITE_APPEND", committed[0].ContextMap()["disposition"])
}
