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
	"fmt"
	"iter"
	"os"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/tripetl/core"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "open_file", "schema", "append_value", "write_batch")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet part writer.
type ParquetWriterOptions struct {
	BatchSize    int64                // Number of rows per Arrow record batch
	Compression  compress.Compression // Compression algorithm
	RowGroupSize int64                // Maximum rows per row group
	Metadata     map[string]string    // File metadata
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of rows buffered per Arrow record batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata for the Parquet files.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// withDefaults applies default values to ParquetWriterOptions.
func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = 10000
	}
	if opts.Compression == 0 {
		opts.Compression = compress.Codecs.Snappy
	}
	if opts.Metadata == nil {
		opts.Metadata = make(map[string]string)
	}
	return opts
}

// NewParquetDestination creates a file table destination rooted at root whose
// parts are Parquet files.
func NewParquetDestination(root string, options ...WriterOption) (*FileTableDestination, error) {
	return newFileTableDestination(root, newParquetPartWriter(options...))
}

func newParquetPartWriter(options ...WriterOption) *parquetPartWriter {
	opts := &ParquetWriterOptions{}
	for _, option := range options {
		option(opts)
	}
	return &parquetPartWriter{opts: opts.withDefaults(), allocator: memory.NewGoAllocator()}
}

type parquetPartWriter struct {
	opts      *ParquetWriterOptions
	allocator memory.Allocator
}

func (p *parquetPartWriter) ext() string {
	return ".parquet"
}

// ArrowSchema maps a table schema onto the Arrow schema of its Parquet parts.
// NUMERIC columns are stored as decimal strings.
func ArrowSchema(schema core.Schema, metadata map[string]string) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		var dt arrow.DataType
		switch f.Type {
		case core.FieldString, core.FieldNumeric:
			dt = arrow.BinaryTypes.String
		case core.FieldTimestamp:
			dt = arrow.FixedWidthTypes.Timestamp_us
		case core.FieldFloat:
			dt = arrow.PrimitiveTypes.Float64
		case core.FieldInteger:
			dt = arrow.PrimitiveTypes.Int64
		case core.FieldBoolean:
			dt = arrow.FixedWidthTypes.Boolean
		default:
			return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("unsupported field type %s for %s", f.Type, f.Name)}
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable()})
	}
	md := arrow.MetadataFrom(metadata)
	return arrow.NewSchema(fields, &md), nil
}

func (p *parquetPartWriter) writePart(ctx context.Context, path string, schema core.Schema, rows iter.Seq2[core.Record, error]) (n int64, err error) {
	arrowSchema, err := ArrowSchema(schema, p.opts.Metadata)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, &ParquetWriterError{Op: "open_file", Err: fmt.Errorf("failed to create parquet file %s: %w", path, err)}
	}
	defer file.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(arrowSchema, file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return 0, &ParquetWriterError{Op: "create_writer", Err: fmt.Errorf("failed to create parquet file writer: %w", err)}
	}

	builder := array.NewRecordBuilder(p.allocator, arrowSchema)
	defer builder.Release()

	var pending int64
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := builder.NewRecord()
		defer rec.Release()
		if err := writer.Write(rec); err != nil {
			return &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("failed to write record batch: %w", err)}
		}
		pending = 0
		return nil
	}

	for rec, rerr := range rows {
		if rerr != nil {
			writer.Close()
			return 0, rerr
		}
		if err := ctx.Err(); err != nil {
			writer.Close()
			return 0, err
		}
		for i, f := range schema.Fields {
			if err := appendValueToBuilder(builder.Field(i), fileValue(f, rec[f.Name]), f.Name); err != nil {
				writer.Close()
				return 0, &core.RejectedRowsError{
					Rejected: 1,
					Rows:     []core.RowError{{Index: n, Field: f.Name, Reason: err.Error()}},
				}
			}
		}
		n++
		pending++
		if pending >= p.opts.BatchSize {
			if err := flush(); err != nil {
				writer.Close()
				return 0, err
			}
		}
	}

	if err := flush(); err != nil {
		writer.Close()
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, &ParquetWriterError{Op: "close_writer", Err: fmt.Errorf("failed to close parquet writer: %w", err)}
	}
	return n, nil
}

// appendValueToBuilder appends a value to the appropriate Arrow array builder.
func appendValueToBuilder(builder array.Builder, value interface{}, fieldName string) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(bool); ok {
			b.Append(v)
			return nil
		}
	case *array.Int64Builder:
		if v, ok := value.(int64); ok {
			b.Append(v)
			return nil
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
			return nil
		case int64:
			b.Append(float64(v))
			return nil
		}
	case *array.StringBuilder:
		switch v := value.(type) {
		case string:
			b.Append(v)
			return nil
		case int64:
			b.Append(strconv.FormatInt(v, 10))
			return nil
		case float64:
			b.Append(strconv.FormatFloat(v, 'f', -1, 64))
			return nil
		}
	case *array.TimestampBuilder:
		if v, ok := value.(time.Time); ok {
			b.Append(arrow.Timestamp(v.UnixMicro()))
			return nil
		}
	default:
		return &ParquetWriterError{
			Op:  "append_value",
			Err: fmt.Errorf("unsupported builder type for field %s", fieldName),
		}
	}
	return &ParquetWriterError{
		Op:  "append_value",
		Err: fmt.Errorf("value of type %T does not fit field %s", value, fieldName),
	}
}
