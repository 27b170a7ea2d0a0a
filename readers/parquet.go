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

package readers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/tripetl/core"
)

// ParquetReaderError wraps Parquet-specific read errors with context about the operation.
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "read", "load_batch", "open_file", "schema")
	Err error  // Underlying error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReader implements core.DataSource for Parquet files.
// Supports optional column projection and safe resource management
type ParquetReader struct {
	fileHandle      *os.File
	reader          *file.Reader
	recordReader    pqarrow.RecordReader
	currentBatch    arrow.Record
	currentBatchIdx int
	totalRows       int64
	schema          *arrow.Schema
	stats           ReaderStats
	opts            *ParquetReaderOptions
}

// ReaderStats holds statistics about the Parquet reader's performance
type ReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader
type ParquetReaderOptions struct {
	BatchSize int64    // Rows per Arrow record batch
	Columns   []string // Optional column projection
}

// ReaderOption represents a configuration function
type ReaderOption func(*ParquetReaderOptions)

// WithBatchSize sets the number of rows decoded per Arrow record batch.
func WithBatchSize(size int64) ReaderOption {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

// WithColumns restricts the reader to the named columns.
func WithColumns(columns ...string) ReaderOption {
	return func(opts *ParquetReaderOptions) {
		opts.Columns = make([]string, len(columns))
		copy(opts.Columns, columns)
	}
}

// NewParquetReader opens a Parquet file and prepares an Arrow RecordReader
func NewParquetReader(filename string, options ...ReaderOption) (*ParquetReader, error) {
	opts := &ParquetReaderOptions{}
	for _, option := range options {
		option(opts)
	}
	opts = opts.withDefaults()

	f, err := os.Open(filename)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}

	parquetReader, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}

	arrowReader, err := pqarrow.NewFileReader(parquetReader, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "get_schema", Err: err}
	}

	var colIndices []int
	for _, name := range opts.Columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			f.Close()
			return nil, &ParquetReaderError{Op: "column_projection", Err: fmt.Errorf("column %q not found in schema", name)}
		}
		colIndices = append(colIndices, idx[0])
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), colIndices, nil)
	if err != nil {
		f.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	return &ParquetReader{
		fileHandle:   f,
		reader:       parquetReader,
		recordReader: recordReader,
		totalRows:    parquetReader.NumRows(),
		schema:       schema,
		stats:        ReaderStats{NullValueCounts: make(map[string]int64)},
		opts:         opts,
	}, nil
}

// Read reads the next record from the Parquet file, returning a core.Record or io.EOF
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		return nil, &ParquetReaderError{Op: "read", Err: err}
	}
	if p.recordReader == nil {
		return nil, &ParquetReaderError{Op: "read", Err: fmt.Errorf("reader is closed")}
	}

	for p.currentBatch == nil || p.currentBatchIdx >= int(p.currentBatch.NumRows()) {
		if err := p.loadNextBatch(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	result := p.extractRecordFromBatch(p.currentBatch, p.currentBatchIdx)
	p.currentBatchIdx++
	p.stats.RecordsRead++
	return result, nil
}

// Close releases resources and closes the underlying file
func (p *ParquetReader) Close() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.fileHandle != nil {
		err := p.fileHandle.Close()
		p.fileHandle = nil
		return err
	}
	return nil
}

// Schema returns the Arrow schema of the Parquet file
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// NumRows returns the row count recorded in the file footer.
func (p *ParquetReader) NumRows() int64 {
	return p.totalRows
}

// Stats returns statistics about the Parquet reader's performance
func (p *ParquetReader) Stats() ReaderStats {
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

func (opts *ParquetReaderOptions) withDefaults() *ParquetReaderOptions {
	result := &ParquetReaderOptions{}
	if opts != nil {
		*result = *opts
	}
	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	return result
}

func (p *ParquetReader) loadNextBatch() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}

	rec, err := p.recordReader.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		return io.EOF
	}
	// The record reader releases its current batch on the next Read.
	rec.Retain()
	p.currentBatch = rec
	p.currentBatchIdx = 0
	p.stats.BatchesRead++
	return nil
}

// extractRecordFromBatch builds a core.Record from a row in an Arrow Record batch
func (p *ParquetReader) extractRecordFromBatch(record arrow.Record, pos int) core.Record {
	sch := record.Schema()
	res := make(core.Record, record.NumCols())
	for i := 0; i < int(record.NumCols()); i++ {
		name := sch.Field(i).Name
		res[name] = p.extractValueFromColumn(record.Column(i), pos, name)
	}
	return res
}

// extractValueFromColumn converts one Arrow cell into a raw record value.
// Integers widen to int64, decimals become decimal.Decimal and timestamps
// become UTC time.Time.
func (p *ParquetReader) extractValueFromColumn(col arrow.Array, rowIdx int, fieldName string) interface{} {
	if col.IsNull(rowIdx) {
		p.stats.NullValueCounts[fieldName]++
		return nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(rowIdx)
	case *array.Int8:
		return int64(arr.Value(rowIdx))
	case *array.Int16:
		return int64(arr.Value(rowIdx))
	case *array.Int32:
		return int64(arr.Value(rowIdx))
	case *array.Int64:
		return arr.Value(rowIdx)
	case *array.Uint8:
		return int64(arr.Value(rowIdx))
	case *array.Uint16:
		return int64(arr.Value(rowIdx))
	case *array.Uint32:
		return int64(arr.Value(rowIdx))
	case *array.Uint64:
		return arr.Value(rowIdx)
	case *array.Float32:
		return float64(arr.Value(rowIdx))
	case *array.Float64:
		return arr.Value(rowIdx)
	case *array.String:
		return arr.Value(rowIdx)
	case *array.LargeString:
		return arr.Value(rowIdx)
	case *array.Binary:
		return arr.Value(rowIdx)
	case *array.Decimal128:
		scale := arr.DataType().(*arrow.Decimal128Type).Scale
		return decimal.NewFromBigInt(arr.Value(rowIdx).BigInt(), -scale)
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(rowIdx).ToTime(unit).UTC()
	case *array.Date32:
		return arr.Value(rowIdx).ToTime()
	case *array.Date64:
		return arr.Value(rowIdx).ToTime()
	default:
		return fmt.Sprintf("%v", col.GetOneForMarshal(rowIdx))
	}
}
