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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl"
	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/internal/config"
	"github.com/aaronlmathis/tripetl/load"
	"github.com/aaronlmathis/tripetl/price"
	"github.com/aaronlmathis/tripetl/readers"
	"github.com/aaronlmathis/tripetl/trip"
	"github.com/aaronlmathis/tripetl/writers"
)

const portalCSV = `Trip ID,Trip Start Timestamp,Trip End Timestamp,Trip Seconds,Trip Miles,Fare,Payment Type
early,2019-09-05 07:00:00 UTC,,600,2.5,$12.25,Cash
a,2019-09-05 07:15:00 UTC,,120,2.5,$12.25,Cash
zero,2019-09-05 07:16:00 UTC,,0,1.0,$4.00,Cash
b,2019-09-05 07:18:00 UTC,,600,12.5,"$1,012.50",Credit Card
`

func loaderFor(env map[string]string) loadFunc {
	return func() (config.Config, error) {
		env["LOG_LEVEL"] = "error"
		return config.LoadFrom(env)
	}
}

func execute(t *testing.T, loadCfg loadFunc, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(loadCfg)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func readTable(t *testing.T, dir, table string) []map[string]interface{} {
	t.Helper()
	dest, err := writers.NewJSONLDestination(dir)
	require.NoError(t, err)
	files, err := dest.Files(table)
	require.NoError(t, err)

	src, err := readers.OpenFiles(files...)
	require.NoError(t, err)
	defer src.Close()

	var rows []map[string]interface{}
	for {
		rec, err := src.Read(context.Background())
		if err != nil {
			break
		}
		rows = append(rows, rec)
	}
	return rows
}

func TestBatchCommand_Files(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "trips.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(portalCSV), 0o644))
	warehouse := filepath.Join(dir, "warehouse")

	env := map[string]string{
		"SOURCE_KIND":           "files",
		"SOURCE_FILES":          csvPath,
		"SOURCE_PORTAL_HEADERS": "true",
		"DEST_KIND":             "jsonl",
		"DEST_DIR":              warehouse,
	}

	for i := 0; i < 2; i++ {
		out, err := execute(t, loaderFor(env), "batch")
		require.NoError(t, err)

		var report tripetl.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, int64(1), report.PreFiltered)
		assert.Equal(t, int64(2), report.Trips.Kept)
		assert.Equal(t, int64(1), report.Trips.Filtered)
		assert.Equal(t, int64(2), report.Load.RowsWritten)
	}

	rows := readTable(t, warehouse, tripetl.DefaultTable)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["unique_key"])
	assert.Equal(t, "b", rows[1]["unique_key"])
	assert.Equal(t, "Credit Card", rows[1]["payment_type"])

	out, err := execute(t, loaderFor(env), "batch", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows_written": 1`)
}

func TestBatchCommand_SourceFilters(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "trips.csv")
	data := portalCSV + "  ,2019-09-05 07:17:00 UTC,,600,3.0,$9.00,Cash\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(data), 0o644))

	tests := []struct {
		name        string
		env         map[string]string
		preFiltered int64
		kept        []interface{}
	}{
		{"no filters", nil, 1, []interface{}{"a", "b", nil}},
		{"window end", map[string]string{"SOURCE_WINDOW_END": "2019-09-05T07:17:00Z"}, 3, []interface{}{"a"}},
		{"payment types", map[string]string{"SOURCE_PAYMENT_TYPES": "Credit Card"}, 4, []interface{}{"b"}},
		{"excluded payment types", map[string]string{"SOURCE_EXCLUDE_PAYMENT_TYPES": "Cash, Dispute"}, 4, []interface{}{"b"}},
		{"require key", map[string]string{"SOURCE_REQUIRE_KEY": "true"}, 2, []interface{}{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warehouse := filepath.Join(t.TempDir(), "warehouse")
			env := map[string]string{
				"SOURCE_KIND":           "files",
				"SOURCE_FILES":          csvPath,
				"SOURCE_PORTAL_HEADERS": "true",
				"DEST_KIND":             "jsonl",
				"DEST_DIR":              warehouse,
			}
			for k, v := range tt.env {
				env[k] = v
			}

			out, err := execute(t, loaderFor(env), "batch")
			require.NoError(t, err)
			var report tripetl.Report
			require.NoError(t, json.Unmarshal([]byte(out), &report))
			assert.Equal(t, tt.preFiltered, report.PreFiltered)

			var keys []interface{}
			for _, row := range readTable(t, warehouse, tripetl.DefaultTable) {
				keys = append(keys, row["unique_key"])
			}
			assert.Equal(t, tt.kept, keys)
		})
	}
}

func TestBatchCommand_PrepareErrorBudget(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "trips.csv")
	data := portalCSV +
		"c,yesterday,,600,3.0,$9.00,Cash\n" +
		"d,tomorrow,,600,3.0,$9.00,Cash\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(data), 0o644))
	warehouse := filepath.Join(dir, "warehouse")

	env := map[string]string{
		"SOURCE_KIND":           "files",
		"SOURCE_FILES":          csvPath,
		"SOURCE_PORTAL_HEADERS": "true",
		"DEST_KIND":             "jsonl",
		"DEST_DIR":              warehouse,
	}
	out, err := execute(t, loaderFor(env), "batch")
	require.NoError(t, err)
	var report tripetl.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(2), report.PrepareErrors)
	assert.Equal(t, int64(2), report.Load.RowsWritten)

	env["BATCH_MAX_PREPARE_ERRORS"] = "1"
	_, err = execute(t, loaderFor(env), "batch")
	assert.ErrorContains(t, err, "more than 1 records failed preparation")

	// The failed run leaves the previous table content.
	assert.Len(t, readTable(t, warehouse, tripetl.DefaultTable), 2)
}

func TestPrepare_PostgresSource(t *testing.T) {
	raw := func(key, start string) core.Record {
		return core.Record{
			trip.ColUniqueKey:   key,
			trip.ColTripStart:   start,
			trip.ColTripSeconds: int64(600),
			trip.ColTripMiles:   2.5,
		}
	}
	// The query already applied the window start; the limit is not reapplied.
	src := readers.NewSliceReader(
		raw("early", "2019-09-05 07:00:00 UTC"),
		raw("a", "2019-09-05 07:15:00 UTC"),
		raw("late", "2019-09-05 09:00:00 UTC"),
	)
	dest := writers.NewMemoryDestination()
	pb := tripetl.NewPipeline().From(src).To(load.NewStage(dest), "trips")
	prepare(pb, config.SourceConfig{
		Kind:        config.SourcePostgres,
		WindowStart: time.Date(2019, 9, 5, 7, 15, 0, 0, time.UTC),
		WindowEnd:   time.Date(2019, 9, 5, 8, 0, 0, 0, time.UTC),
		Limit:       1,
	})

	p, err := pb.Build()
	require.NoError(t, err)
	report, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.PreFiltered)
	assert.Equal(t, int64(2), report.Load.RowsWritten)
	assert.Len(t, dest.Rows("trips"), 2)
}

func TestPrepareErrorBudget(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("bad timestamp")

	h := prepareErrorBudget(2, zap.NewNop())
	assert.NoError(t, h.HandleError(ctx, nil, cause))
	assert.NoError(t, h.HandleError(ctx, nil, cause))
	assert.ErrorIs(t, h.HandleError(ctx, nil, cause), cause)

	unlimited := prepareErrorBudget(0, zap.NewNop())
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.HandleError(ctx, nil, cause))
	}
}

func TestFetchCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000.5},"ethereum":{"usd":3100}}`))
	}))
	defer srv.Close()

	warehouse := t.TempDir()
	env := map[string]string{
		"FETCH_URL": srv.URL,
		"FETCH_IDS": "bitcoin,ethereum",
		"DEST_KIND": "jsonl",
		"DEST_DIR":  warehouse,
	}

	for i := 0; i < 2; i++ {
		out, err := execute(t, loaderFor(env), "fetch")
		require.NoError(t, err)
		var status price.Status
		require.NoError(t, json.Unmarshal([]byte(out), &status))
		assert.True(t, status.OK())
		assert.Equal(t, int64(2), status.RowsWritten)
	}

	rows := readTable(t, warehouse, price.DefaultTable)
	require.Len(t, rows, 4)
	assert.Equal(t, "bitcoin", rows[0]["currency"])
	assert.Equal(t, "ethereum", rows[3]["currency"])
}

func TestFetchCommand_SourceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	warehouse := t.TempDir()
	env := map[string]string{"FETCH_URL": srv.URL, "DEST_KIND": "jsonl", "DEST_DIR": warehouse}
	out, err := execute(t, loaderFor(env), "fetch")
	require.Error(t, err)
	assert.Contains(t, out, `"status":"Error"`)

	_, found, err := mustJSONL(t, warehouse).TableSchema(context.Background(), price.DefaultTable)
	require.NoError(t, err)
	assert.False(t, found)
}

func mustJSONL(t *testing.T, dir string) *writers.FileTableDestination {
	t.Helper()
	d, err := writers.NewJSONLDestination(dir)
	require.NoError(t, err)
	return d
}

func TestOpenSource_Errors(t *testing.T) {
	_, err := openSource(context.Background(), config.SourceConfig{Kind: "postgres"})
	assert.ErrorContains(t, err, "SOURCE_DSN")

	_, err = openSource(context.Background(), config.SourceConfig{Kind: "ftp"})
	assert.Error(t, err)

	_, err = openSource(context.Background(), config.SourceConfig{Kind: "files", Files: []string{filepath.Join(t.TempDir(), "missing.csv")}})
	assert.Error(t, err)
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, loaderFor(map[string]string{}))
	require.NoError(t, err)
	assert.Contains(t, out, "batch")
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, "serve")
}
