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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestinationKind(t *testing.T) {
	tests := []struct {
		in   string
		want DestinationKind
	}{
		{"memory", KindMemory},
		{" SQLite ", KindSQLite},
		{"postgresql", KindPostgres},
		{"mongodb", KindMongo},
		{"parquet", KindParquet},
		{"JSONL", KindJSONL},
		{"csv", KindCSV},
		{"S3", KindS3},
	}
	for _, tt := range tests {
		got, err := ParseDestinationKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseDestinationKind("bigquery")
	assert.Error(t, err)
}

func TestLocation_NewDestination(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		loc  Location
		want interface{}
	}{
		{Location{Kind: KindMemory}, &MemoryDestination{}},
		{Location{Kind: KindSQLite, DSN: filepath.Join(dir, "w.db")}, &SQLDestination{}},
		{Location{Kind: KindParquet, Dir: filepath.Join(dir, "pq")}, &FileTableDestination{}},
		{Location{Kind: KindJSONL, Dir: filepath.Join(dir, "jl")}, &FileTableDestination{}},
		{Location{Kind: KindCSV, Dir: filepath.Join(dir, "csv")}, &FileTableDestination{}},
	}
	for _, tt := range tests {
		d, err := tt.loc.NewDestination(ctx)
		require.NoError(t, err, tt.loc.String())
		assert.IsType(t, tt.want, d)
		require.NoError(t, d.Close())
	}

	_, err := Location{Kind: "bigquery"}.NewDestination(ctx)
	assert.Error(t, err)

	_, err = Location{Kind: KindJSONL}.NewDestination(ctx)
	var fte *FileTableError
	assert.ErrorAs(t, err, &fte)

	_, err = Location{Kind: KindS3}.NewDestination(ctx)
	assert.ErrorAs(t, err, &fte)

	_, err = Location{Kind: KindS3, Bucket: "b", Format: KindMemory}.NewDestination(ctx)
	assert.ErrorAs(t, err, &fte)

	_, err = Location{Kind: KindMongo}.NewDestination(ctx)
	var mde *MongoDestinationError
	assert.ErrorAs(t, err, &mde)
}

func TestLocation_String(t *testing.T) {
	assert.Equal(t, "parquet:/data", Location{Kind: KindParquet, Dir: "/data"}.String())
	assert.Equal(t, "mongo:tripetl", Location{Kind: KindMongo, URI: "mongodb://u:p@h", Database: "tripetl"}.String())
	assert.Equal(t, "csv:/data", Location{Kind: KindCSV, Dir: "/data"}.String())
	assert.Equal(t, "s3://lake/warehouse (parquet)", Location{Kind: KindS3, Bucket: "lake", Prefix: "/warehouse/"}.String())
	assert.Equal(t, "s3://lake/ (jsonl)", Location{Kind: KindS3, Bucket: "lake", Format: KindJSONL}.String())
	assert.Equal(t, "postgres", Location{Kind: KindPostgres, DSN: "postgres://u:p@h/db"}.String())
}
