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

package config

import (
	"testing"
	"time"

	"github.com/aaronlmathis/tripetl/writers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, SourcePostgres, cfg.Source.Kind)
	assert.Equal(t, time.Date(2019, 9, 5, 7, 15, 0, 0, time.UTC), cfg.Source.WindowStart.UTC())
	assert.Equal(t, 10000, cfg.Source.Limit)
	assert.True(t, cfg.Source.WindowEnd.IsZero())
	assert.Empty(t, cfg.Source.PaymentTypes)
	assert.Equal(t, "trips_transformed", cfg.Batch.Table)
	assert.True(t, cfg.Batch.SkipErrors)
	assert.Equal(t, "prices", cfg.Fetch.Table)
	assert.Equal(t, []string{"bitcoin", "ethereum", "cardano"}, cfg.Fetch.IDs)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)

	loc := cfg.Location()
	assert.Equal(t, writers.KindSQLite, loc.Kind)
	assert.Equal(t, "tripetl.db", loc.DSN)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"SOURCE_KIND":              "files",
		"SOURCE_FILES":             "a.csv,b.jsonl",
		"SOURCE_WINDOW_START":      "2020-01-01T00:00:00Z",
		"SOURCE_LIMIT":             "0",
		"SOURCE_WINDOW_END":        "2020-02-01T00:00:00Z",
		"SOURCE_PAYMENT_TYPES":     "Cash,Credit Card",
		"SOURCE_REQUIRE_KEY":       "true",
		"BATCH_MAX_PREPARE_ERRORS": "5",
		"DEST_KIND":                "parquet",
		"DEST_DIR":                 "/tmp/wh",
		"FETCH_IDS":                "bitcoin",
		"FETCH_TIMEOUT":            "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.jsonl"}, cfg.Source.Files)
	assert.Equal(t, 2020, cfg.Source.WindowStart.Year())
	assert.Equal(t, 0, cfg.Source.Limit)
	assert.Equal(t, time.February, cfg.Source.WindowEnd.Month())
	assert.Equal(t, []string{"Cash", "Credit Card"}, cfg.Source.PaymentTypes)
	assert.True(t, cfg.Source.RequireKey)
	assert.Equal(t, 5, cfg.Batch.MaxPrepareErrors)
	assert.Equal(t, []string{"bitcoin"}, cfg.Fetch.IDs)
	assert.Equal(t, writers.Location{Kind: writers.KindParquet, DSN: "tripetl.db", Dir: "/tmp/wh", Database: "tripetl", Format: writers.KindParquet}, cfg.Location())
}

func TestLoadFrom_S3Destination(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DEST_KIND":          "s3",
		"DEST_S3_BUCKET":     "lake",
		"DEST_S3_PREFIX":     "warehouse",
		"DEST_S3_FORMAT":     "CSV",
		"DEST_S3_ENDPOINT":   "http://localhost:9000",
		"DEST_S3_PATH_STYLE": "true",
	})
	require.NoError(t, err)

	loc := cfg.Location()
	assert.Equal(t, writers.KindS3, loc.Kind)
	assert.Equal(t, "lake", loc.Bucket)
	assert.Equal(t, "warehouse", loc.Prefix)
	assert.Equal(t, writers.KindCSV, loc.Format)
	assert.Equal(t, "http://localhost:9000", loc.Endpoint)
	assert.True(t, loc.PathStyle)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"files without paths", map[string]string{"SOURCE_KIND": "files"}},
		{"s3 without bucket", map[string]string{"SOURCE_KIND": "s3"}},
		{"unknown source", map[string]string{"SOURCE_KIND": "bigquery"}},
		{"unknown destination", map[string]string{"DEST_KIND": "bigquery"}},
		{"mongo without uri", map[string]string{"DEST_KIND": "mongo"}},
		{"s3 destination without bucket", map[string]string{"DEST_KIND": "s3"}},
		{"s3 destination bad format", map[string]string{"DEST_KIND": "s3", "DEST_S3_BUCKET": "lake", "DEST_S3_FORMAT": "sqlite"}},
		{"negative limit", map[string]string{"SOURCE_LIMIT": "-1"}},
		{"bad window", map[string]string{"SOURCE_WINDOW_START": "yesterday"}},
		{"window end before start", map[string]string{"SOURCE_WINDOW_END": "2019-09-05T07:00:00Z"}},
		{"negative error budget", map[string]string{"BATCH_MAX_PREPARE_ERRORS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			assert.Error(t, err)
		})
	}
}
