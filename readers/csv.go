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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/shopspring/decimal"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op   string
	Line int
	Err  error
}

func (e *CSVReaderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("csv reader %s (line %d): %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats holds statistics about the CSV reader's performance.
type CSVReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	Comma            rune
	Comment          rune
	LazyQuotes       bool
	TrimLeadingSpace bool
	HasHeaders       bool
	InferTypes       bool
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

func WithCSVComma(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comma = r }
}

func WithCSVHasHeaders(hasHeaders bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.HasHeaders = hasHeaders }
}

func WithCSVTrimSpace(trim bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.TrimLeadingSpace = trim }
}

// WithCSVInferTypes turns integer cells into int64, other numeric cells into
// decimal.Decimal and true/false into bool. Cells stay strings otherwise.
func WithCSVInferTypes(infer bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.InferTypes = infer }
}

// CSVReader implements core.DataSource for CSV trip exports. Empty cells
// become nulls.
type CSVReader struct {
	reader  *csv.Reader
	headers []string
	closer  io.Closer
	stats   CSVReaderStats
	opts    CSVReaderOptions
}

// NewCSVReader creates a CSVReader with default or overridden options.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) (*CSVReader, error) {
	opts := CSVReaderOptions{
		Comma:            ',',
		HasHeaders:       true,
		TrimLeadingSpace: true,
	}
	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.Comma = opts.Comma
	csvReader.Comment = opts.Comment
	csvReader.LazyQuotes = opts.LazyQuotes
	csvReader.TrimLeadingSpace = opts.TrimLeadingSpace
	csvReader.ReuseRecord = true

	reader := &CSVReader{
		reader: csvReader,
		closer: r,
		opts:   opts,
		stats:  CSVReaderStats{NullValueCounts: make(map[string]int64)},
	}

	if opts.HasHeaders {
		headers, err := csvReader.Read()
		if err != nil {
			return nil, &CSVReaderError{Op: "read_headers", Err: err}
		}
		reader.headers = make([]string, len(headers))
		for i, h := range headers {
			reader.headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
	}

	return reader, nil
}

// Headers returns the column names read from the header line.
func (c *CSVReader) Headers() []string {
	return append([]string(nil), c.headers...)
}

// Read implements the core.DataSource interface.
func (c *CSVReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, &CSVReaderError{Op: "read", Err: err}
	}

	row, err := c.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &CSVReaderError{Op: "read_record", Err: err}
	}
	if len(c.headers) > 0 && len(row) != len(c.headers) {
		line, _ := c.reader.FieldPos(0)
		return nil, &CSVReaderError{Op: "read_record", Line: line, Err: fmt.Errorf("expected %d fields, got %d", len(c.headers), len(row))}
	}

	res := make(core.Record, len(row))
	for i, val := range row {
		key := "col_" + strconv.Itoa(i)
		if len(c.headers) > 0 {
			key = c.headers[i]
		}
		if strings.TrimSpace(val) == "" {
			c.stats.NullValueCounts[key]++
			res[key] = nil
			continue
		}
		res[key] = c.parseValue(val)
	}

	c.stats.RecordsRead++
	c.stats.LastReadTime = time.Now()
	c.stats.ReadDuration += time.Since(start)
	return res, nil
}

// Close implements the core.DataSource interface.
func (c *CSVReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns CSV reader performance stats.
func (c *CSVReader) Stats() CSVReaderStats {
	stats := c.stats
	stats.NullValueCounts = make(map[string]int64, len(c.stats.NullValueCounts))
	for k, v := range c.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// parseValue returns the cell text, or its inferred int64, decimal or bool
// value when type inference is on.
func (c *CSVReader) parseValue(value string) interface{} {
	value = strings.TrimSpace(value)
	if !c.opts.InferTypes {
		return value
	}

	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if d, err := decimal.NewFromString(value); err == nil {
		return d
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
