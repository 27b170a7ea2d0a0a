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
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/aaronlmathis/tripetl/core"
)

// DestinationKind names a supported destination backend.
type DestinationKind string

const (
	KindMemory   DestinationKind = "memory"
	KindSQLite   DestinationKind = "sqlite"
	KindPostgres DestinationKind = "postgres"
	KindMongo    DestinationKind = "mongo"
	KindParquet  DestinationKind = "parquet"
	KindJSONL    DestinationKind = "jsonl"
	KindCSV      DestinationKind = "csv"
	KindS3       DestinationKind = "s3"
)

// ParseDestinationKind resolves a configured kind name, case-insensitively.
func ParseDestinationKind(s string) (DestinationKind, error) {
	k := DestinationKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindMemory, KindSQLite, KindPostgres, KindMongo, KindParquet, KindJSONL, KindCSV, KindS3:
		return k, nil
	case "postgresql":
		return KindPostgres, nil
	case "mongodb":
		return KindMongo, nil
	}
	return "", fmt.Errorf("unsupported destination kind %q", s)
}

// Location describes where tables are written. DSN is used by the SQL kinds,
// Dir by the local file table kinds, URI/Database by MongoDB and the S3
// fields by S3 file tables, whose parts are written in Format.
type Location struct {
	Kind     DestinationKind
	DSN      string
	Dir      string
	URI      string
	Database string

	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
	Format    DestinationKind
}

// NewDestination opens the destination described by the location.
func (l Location) NewDestination(ctx context.Context) (core.Destination, error) {
	switch l.Kind {
	case KindMemory:
		return NewMemoryDestination(), nil
	case KindSQLite:
		return NewSQLDestination(WithSQLDialect(DialectSQLite), WithSQLDSN(l.DSN))
	case KindPostgres:
		return NewSQLDestination(WithSQLDialect(DialectPostgres), WithSQLDSN(l.DSN))
	case KindMongo:
		return NewMongoDestination(ctx, WithMongoURI(l.URI), WithMongoDatabase(l.Database))
	case KindParquet:
		return NewParquetDestination(l.Dir)
	case KindJSONL:
		return NewJSONLDestination(l.Dir)
	case KindCSV:
		return NewCSVDestination(l.Dir)
	case KindS3:
		return NewS3TableDestination(ctx,
			WithS3TableBucket(l.Bucket),
			WithS3TablePrefix(l.Prefix),
			WithS3TableFormat(cmp.Or(l.Format, KindParquet)),
			WithS3TableRegion(l.Region),
			WithS3TableEndpoint(l.Endpoint, l.PathStyle),
		)
	default:
		return nil, fmt.Errorf("unsupported destination kind %q", l.Kind)
	}
}

// String describes the location without credentials.
func (l Location) String() string {
	switch l.Kind {
	case KindParquet, KindJSONL, KindCSV:
		return fmt.Sprintf("%s:%s", l.Kind, l.Dir)
	case KindS3:
		return fmt.Sprintf("%s://%s/%s (%s)", l.Kind, l.Bucket, strings.Trim(l.Prefix, "/"), cmp.Or(l.Format, KindParquet))
	case KindMongo:
		return fmt.Sprintf("%s:%s", l.Kind, l.Database)
	}
	return string(l.Kind)
}
