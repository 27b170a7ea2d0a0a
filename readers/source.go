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
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/tripetl/core"
)

// SliceReader implements core.DataSource over records held in memory.
type SliceReader struct {
	records []core.Record
	pos     int
}

// NewSliceReader returns a source yielding records in order.
func NewSliceReader(records ...core.Record) *SliceReader {
	return &SliceReader{records: records}
}

func (s *SliceReader) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceReader) Close() error {
	return nil
}

type limitReader struct {
	src  core.DataSource
	left int64
}

// Limit returns a source that ends after n records of src. A limit <= 0
// returns src unchanged.
func Limit(src core.DataSource, n int64) core.DataSource {
	if n <= 0 {
		return src
	}
	return &limitReader{src: src, left: n}
}

func (l *limitReader) Read(ctx context.Context) (core.Record, error) {
	if l.left <= 0 {
		return nil, io.EOF
	}
	rec, err := l.src.Read(ctx)
	if err != nil {
		return nil, err
	}
	l.left--
	return rec, nil
}

func (l *limitReader) Close() error {
	return l.src.Close()
}

type concatReader struct {
	sources []core.DataSource
	current int
}

// Concat reads each source to the end in turn.
func Concat(sources ...core.DataSource) core.DataSource {
	return &concatReader{sources: sources}
}

func (c *concatReader) Read(ctx context.Context) (core.Record, error) {
	for c.current < len(c.sources) {
		rec, err := c.sources[c.current].Read(ctx)
		if errors.Is(err, io.EOF) {
			c.current++
			continue
		}
		return rec, err
	}
	return nil, io.EOF
}

func (c *concatReader) Close() error {
	var errs []error
	for _, s := range c.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenFile opens a local trip export, choosing the reader from the file
// extension: .csv, .parquet, or JSON lines for anything else.
func OpenFile(path string) (core.DataSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return NewParquetReader(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, &CSVReaderError{Op: "open_file", Err: err}
		}
		r, err := NewCSVReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return NewJSONReader(f), nil
	}
}

// OpenFiles opens every path with OpenFile and concatenates them in order.
func OpenFiles(paths ...string) (core.DataSource, error) {
	sources := make([]core.DataSource, 0, len(paths))
	for _, p := range paths {
		src, err := OpenFile(p)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			return nil, err
		}
		sources = append(sources, src)
	}
	return Concat(sources...), nil
}
