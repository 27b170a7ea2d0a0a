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
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"time"

	"github.com/aaronlmathis/tripetl/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterOptions configures CSV output.
type CSVWriterOptions struct {
	Comma       rune
	UseCRLF     bool
	WriteHeader bool
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

func WithComma(delim rune) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Comma = delim
	}
}

func WithWriteHeader(write bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.WriteHeader = write
	}
}

func WithUseCRLF(useCRLF bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.UseCRLF = useCRLF
	}
}

// CSVWriter writes rows of a schema as CSV. The header row, when enabled,
// lists the schema's field names in schema order and every row follows it.
type CSVWriter struct {
	writer      *csv.Writer
	closer      io.Closer
	options     CSVWriterOptions
	schema      core.Schema
	row         []string
	wroteHeader bool
	written     int64
}

// NewCSVWriter creates a new CSV writer for rows of schema.
func NewCSVWriter(w io.WriteCloser, schema core.Schema, opts ...WriterOptionCSV) *CSVWriter {
	options := CSVWriterOptions{
		Comma:       ',',
		WriteHeader: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cw := csv.NewWriter(w)
	cw.Comma = options.Comma
	cw.UseCRLF = options.UseCRLF

	return &CSVWriter{
		writer:  cw,
		closer:  w,
		options: options,
		schema:  schema,
		row:     make([]string, len(schema.Fields)),
	}
}

// Write encodes one row. Missing and null values become empty cells.
func (c *CSVWriter) Write(ctx context.Context, record core.Record) error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	for i, f := range c.schema.Fields {
		c.row[i] = csvCell(fileValue(f, record[f.Name]))
	}
	if err := c.writer.Write(c.row); err != nil {
		return &CSVWriterError{Op: "write_row", Err: err}
	}
	c.written++
	return nil
}

func (c *CSVWriter) writeHeader() error {
	if c.wroteHeader || !c.options.WriteHeader {
		return nil
	}
	if err := c.writer.Write(c.schema.Names()); err != nil {
		return &CSVWriterError{Op: "write_header", Err: err}
	}
	c.wroteHeader = true
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return &CSVWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close writes the header if no row was written, flushes and closes the
// underlying writer.
func (c *CSVWriter) Close() error {
	err := c.writeHeader()
	if err == nil {
		err = c.Flush()
	}
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RecordsWritten returns the number of data rows written.
func (c *CSVWriter) RecordsWritten() int64 {
	return c.written
}

func csvCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// NewCSVDestination creates a file table destination rooted at root whose
// parts are CSV files with a header row.
func NewCSVDestination(root string) (*FileTableDestination, error) {
	return newFileTableDestination(root, csvPartWriter{})
}

type csvPartWriter struct{}

func (csvPartWriter) ext() string {
	return ".csv"
}

func (csvPartWriter) writePart(ctx context.Context, path string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create CSV file %s: %w", path, err)
	}
	w := NewCSVWriter(file, schema)

	for rec, rerr := range rows {
		if rerr != nil {
			w.Close()
			return 0, rerr
		}
		if err := ctx.Err(); err != nil {
			w.Close()
			return 0, err
		}
		if err := w.Write(ctx, rec); err != nil {
			w.Close()
			return 0, err
		}
	}

	if err := w.Flush(); err != nil {
		w.Close()
		return 0, err
	}
	if err := file.Sync(); err != nil {
		w.Close()
		return 0, err
	}
	return w.RecordsWritten(), w.Close()
}
