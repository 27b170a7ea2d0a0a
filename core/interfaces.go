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

package core

import (
	"context"
	"iter"
)

// DataSource defines the interface for data extraction.
// Implementations stream records from a source (e.g., PostgreSQL, CSV, Parquet, S3).
// Iteration is sequential and single pass.
type DataSource interface {
	// Read returns the next record or io.EOF when no more records are available.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the data source.
	Close() error
}

// Destination defines the warehouse collaborator a load writes into.
type Destination interface {
	// TableSchema returns the declared schema of table. found is false when
	// the table does not exist yet.
	TableSchema(ctx context.Context, table string) (schema Schema, found bool, err error)
	// CreateTable creates table with exactly the given schema.
	CreateTable(ctx context.Context, table string, schema Schema) error
	// Write stores every row yielded by rows in table, or none of them.
	// Under WriteTruncate the prior table content is replaced in the same
	// all-or-nothing step. An error yielded by rows aborts the write.
	Write(ctx context.Context, table string, schema Schema, mode WriteDisposition, rows iter.Seq2[Record, error]) (int64, error)
	// Close releases any resources held by the destination.
	Close() error
}

// Transformer defines a raw record rewrite applied before decoding.
type Transformer interface {
	// Transform applies the transformation to a record and returns the result.
	Transform(ctx context.Context, record Record) (Record, error)
}

// Filter defines a raw record predicate applied before decoding.
type Filter interface {
	// ShouldInclude returns true if the record should be included in the output.
	ShouldInclude(ctx context.Context, record Record) (bool, error)
}
