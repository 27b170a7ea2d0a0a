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

package writers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/aaronlmathis/tripetl/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readParquetTable(t *testing.T, path string) arrow.Table {
	t.Helper()
	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { rdr.Close() })

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	t.Cleanup(tbl.Release)
	return tbl
}

func readJSONLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestFileTable_RequiresRoot(t *testing.T) {
	_, err := NewJSONLDestination("")
	var fte *FileTableError
	require.ErrorAs(t, err, &fte)
	assert.Equal(t, "validate", fte.Op)
}

func TestFileTable_SchemaAndMissingTable(t *testing.T) {
	d, err := NewJSONLDestination(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := d.TableSchema(ctx, "trips")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(tripRows("a")))
	assert.ErrorIs(t, err, core.ErrTableNotFound)

	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))
	got, found, err := d.TableSchema(ctx, "trips")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, tripSchema().Equal(got))
}

func TestJSONLDestination_TruncateAndAppend(t *testing.T) {
	root := t.TempDir()
	d, err := NewJSONLDestination(root)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))

	for i := 0; i < 2; i++ {
		n, err := d.Write(ctx, "trips", tripSchema(), core.WriteTruncate, seqOf(tripRows("a", "b")))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	}
	files, err := d.Files("trips")
	require.NoError(t, err)
	require.Len(t, files, 1)

	rows := readJSONLines(t, files[0])
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["unique_key"])
	assert.Equal(t, 0.0208, rows[0]["trip_miles_per_second"])
	assert.Equal(t, "2019-09-05T07:15:00Z", rows[0]["trip_start_timestamp"])

	// Keys follow the schema order.
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"unique_key":"a","trip_start_timestamp"`))

	_, err = d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(tripRows("c")))
	require.NoError(t, err)
	files, err = d.Files("trips")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// Truncated parts are removed from disk.
	entries, err := os.ReadDir(filepath.Join(root, "trips"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestJSONLDestination_FailedWriteKeepsContent(t *testing.T) {
	d, err := NewJSONLDestination(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))
	_, err = d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(tripRows("a")))
	require.NoError(t, err)

	boom := errors.New("read failed")
	failing := func(yield func(core.Record, error) bool) {
		if !yield(tripRows("x")[0], nil) {
			return
		}
		yield(nil, boom)
	}
	_, err = d.Write(ctx, "trips", tripSchema(), core.WriteTruncate, failing)
	assert.ErrorIs(t, err, boom)

	files, err := d.Files("trips")
	require.NoError(t, err)
	require.Len(t, files, 1)
	rows := readJSONLines(t, files[0])
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["unique_key"])
}

func TestParquetDestination_Write(t *testing.T) {
	d, err := NewParquetDestination(t.TempDir(), WithBatchSize(2), WithMetadata(map[string]string{"producer": "tripetl"}))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))

	rows := tripRows("a", "b", "c")
	rows[1]["fare"] = nil
	n, err := d.Write(ctx, "trips", tripSchema(), core.WriteTruncate, seqOf(rows))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	files, err := d.Files("trips")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".parquet", filepath.Ext(files[0]))

	tbl := readParquetTable(t, files[0])
	assert.Equal(t, int64(3), tbl.NumRows())
	assert.Equal(t, "unique_key", tbl.Schema().Field(0).Name)
	assert.Equal(t, arrow.FLOAT64, tbl.Schema().Field(2).Type.ID())

	fares := tbl.Column(2).Data().Chunk(0).(*array.Float64)
	assert.Equal(t, 10.25, fares.Value(0))
	assert.True(t, fares.IsNull(1))
}

func TestParquetDestination_RejectsMistypedValue(t *testing.T) {
	d, err := NewParquetDestination(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))

	rows := tripRows("a")
	rows[0]["trip_start_timestamp"] = "not a time"
	_, err = d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(rows))

	var rejected *core.RejectedRowsError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "trips", rejected.Table)
	files, err := d.Files("trips")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestArrowSchema(t *testing.T) {
	schema := core.NewSchema(
		core.Field{Name: "n", Type: core.FieldNumeric, Mode: core.ModeRequired},
		core.Field{Name: "i", Type: core.FieldInteger},
		core.Field{Name: "b", Type: core.FieldBoolean},
	)
	as, err := ArrowSchema(schema, nil)
	require.NoError(t, err)
	assert.Equal(t, arrow.STRING, as.Field(0).Type.ID())
	assert.False(t, as.Field(0).Nullable)
	assert.Equal(t, arrow.INT64, as.Field(1).Type.ID())
	assert.Equal(t, arrow.BOOL, as.Field(2).Type.ID())

	_, err = ArrowSchema(core.NewSchema(core.Field{Name: "g", Type: "GEOGRAPHY"}), nil)
	assert.Error(t, err)
}

func TestFileTable_RejectsEscapingTableNames(t *testing.T) {
	root := t.TempDir()
	d, err := NewJSONLDestination(filepath.Join(root, "warehouse"))
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"../x", "..", "a/b", `a\b`, "/abs", "", "x..y"} {
		err := d.CreateTable(ctx, name, tripSchema())
		var fte *FileTableError
		require.ErrorAs(t, err, &fte, name)
		assert.Equal(t, "validate", fte.Op)

		_, _, err = d.TableSchema(ctx, name)
		assert.Error(t, err, name)
		_, err = d.Write(ctx, name, tripSchema(), core.WriteAppend, seqOf(tripRows("a")))
		assert.Error(t, err, name)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
