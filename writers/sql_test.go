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
	"context"
	"errors"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripSchema() core.Schema {
	return core.NewSchema(
		core.Field{Name: "unique_key", Type: core.FieldString, Mode: core.ModeNullable},
		core.Field{Name: "trip_start_timestamp", Type: core.FieldTimestamp, Mode: core.ModeNullable},
		core.Field{Name: "fare", Type: core.FieldFloat, Mode: core.ModeNullable},
		core.Field{Name: "trip_miles_per_second", Type: core.FieldFloat, Mode: core.ModeNullable},
	)
}

func tripRows(keys ...string) []core.Record {
	start := time.Date(2019, 9, 5, 7, 15, 0, 0, time.UTC)
	rows := make([]core.Record, 0, len(keys))
	for i, k := range keys {
		rows = append(rows, core.Record{
			"unique_key":            k,
			"trip_start_timestamp":  start.Add(time.Duration(i) * time.Minute),
			"fare":                  decimal.RequireFromString("10.25"),
			"trip_miles_per_second": decimal.RequireFromString("0.0208"),
		})
	}
	return rows
}

func seqOf(rows []core.Record) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func newSQLiteDestination(t *testing.T) *SQLDestination {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "warehouse.db")
	d, err := NewSQLDestination(WithSQLDialect(DialectSQLite), WithSQLDSN(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func countRows(t *testing.T, d *SQLDestination, table string) int {
	t.Helper()
	var n int
	require.NoError(t, d.db.QueryRow("SELECT COUNT(*) FROM "+quoteTableName(table)).Scan(&n))
	return n
}

func TestSQLDestination_Options(t *testing.T) {
	_, err := NewSQLDestination(WithSQLDialect(DialectSQLite))
	var sqlErr *SQLDestinationError
	require.ErrorAs(t, err, &sqlErr)
	assert.Equal(t, "validate", sqlErr.Op)

	_, err = NewSQLDestination(WithSQLDialect("oracle"), WithSQLDSN("x"))
	assert.ErrorContains(t, err, "unsupported dialect")

	opts := (&SQLDestinationOptions{Dialect: DialectSQLite}).withDefaults()
	assert.Equal(t, 1, opts.MaxOpenConns)
	assert.Equal(t, 30*time.Second, opts.QueryTimeout)
}

func TestSQLDestination_SchemaRoundTrip(t *testing.T) {
	d := newSQLiteDestination(t)
	ctx := context.Background()

	_, found, err := d.TableSchema(ctx, "trips_transformed")
	require.NoError(t, err)
	assert.False(t, found)

	schema := tripSchema()
	schema.Fields[0].Mode = core.ModeRequired
	require.NoError(t, d.CreateTable(ctx, "trips_transformed", schema))
	require.NoError(t, d.CreateTable(ctx, "trips_transformed", schema))

	got, found, err := d.TableSchema(ctx, "trips_transformed")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, schema.Equal(got), "diff: %v", schema.Diff(got))
}

func TestSQLDestination_TruncateAndAppend(t *testing.T) {
	d := newSQLiteDestination(t)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))

	for i := 0; i < 2; i++ {
		n, err := d.Write(ctx, "trips", tripSchema(), core.WriteTruncate, seqOf(tripRows("a", "b", "c")))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, 3, countRows(t, d, "trips"))
	}

	n, err := d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(tripRows("d")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 4, countRows(t, d, "trips"))

	var (
		fare  float64
		start time.Time
	)
	require.NoError(t, d.db.QueryRow(`SELECT fare, trip_start_timestamp FROM trips WHERE unique_key = 'b'`).Scan(&fare, &start))
	assert.Equal(t, 10.25, fare)
	assert.True(t, start.Equal(time.Date(2019, 9, 5, 7, 16, 0, 0, time.UTC)))

	stats := d.Stats()
	assert.Equal(t, int64(7), stats.RowsWritten)
	assert.Equal(t, int64(3), stats.TransactionCount)
}

func TestSQLDestination_AbortedWriteLeavesTable(t *testing.T) {
	d := newSQLiteDestination(t)
	ctx := context.Background()
	require.NoError(t, d.CreateTable(ctx, "trips", tripSchema()))
	_, err := d.Write(ctx, "trips", tripSchema(), core.WriteAppend, seqOf(tripRows("a", "b")))
	require.NoError(t, err)

	boom := errors.New("source failed")
	failing := func(yield func(core.Record, error) bool) {
		for _, r := range tripRows("x", "y") {
			if !yield(r, nil) {
				return
			}
		}
		yield(nil, boom)
	}

	n, err := d.Write(ctx, "trips", tripSchema(), core.WriteTruncate, failing)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.Equal(t, 2, countRows(t, d, "trips"))
	assert.Equal(t, int64(1), d.Stats().Rollbacks)
}

func TestSQLDestination_RejectedRow(t *testing.T) {
	d := newSQLiteDestination(t)
	ctx := context.Background()
	schema := tripSchema()
	schema.Fields[0].Mode = core.ModeRequired
	require.NoError(t, d.CreateTable(ctx, "trips", schema))

	rows := tripRows("a", "b")
	rows[1]["unique_key"] = nil

	_, err := d.Write(ctx, "trips", schema, core.WriteAppend, seqOf(rows))
	var rejected *core.RejectedRowsError
	require.ErrorAs(t, err, &rejected)
	require.Len(t, rejected.Rows, 1)
	assert.Equal(t, int64(1), rejected.Rows[0].Index)
	assert.Equal(t, 0, countRows(t, d, "trips"))
}

func TestSQLStatements(t *testing.T) {
	pg := &SQLDestination{options: SQLDestinationOptions{Dialect: DialectPostgres}}
	lite := &SQLDestination{options: SQLDestinationOptions{Dialect: DialectSQLite}}
	schema := core.NewSchema(
		core.Field{Name: "currency", Type: core.FieldString},
		core.Field{Name: "usd_price", Type: core.FieldFloat},
	)

	assert.Equal(t, `INSERT INTO "crypto"."prices" ("currency", "usd_price") VALUES ($1, $2)`, pg.insertStatement("crypto.prices", schema))
	assert.Equal(t, `INSERT INTO "prices" ("currency", "usd_price") VALUES (?, ?)`, lite.insertStatement("prices", schema))
	assert.Equal(t, `TRUNCATE TABLE "prices"`, pg.truncateStatement("prices"))
	assert.Equal(t, `DELETE FROM "prices"`, lite.truncateStatement("prices"))

	assert.Equal(t, core.FieldTimestamp, pg.fieldType("timestamp with time zone"))
	assert.Equal(t, core.FieldFloat, lite.fieldType("REAL"))
	assert.Equal(t, core.FieldType("JSONB"), pg.fieldType("jsonb"))

	assert.Equal(t, 0.5, convertSQLValue(schema.Fields[1], decimal.RequireFromString("0.5")))
	assert.Nil(t, convertSQLValue(schema.Fields[1], decimal.NullDecimal{}))
}
