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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aaronlmathis/tripetl/core"
)

const maxJSONLineSize = 4 * 1024 * 1024

// JSONReaderError reports a line that could not be read or decoded.
type JSONReaderError struct {
	Op   string
	Line int
	Err  error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s (line %d): %v", e.Op, e.Line, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements core.DataSource for JSON lines files. Numbers are
// kept as json.Number so integer durations and decimal distances reach the
// trip decoder without a float conversion. Blank lines are skipped.
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	read    int64
}

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser) *JSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLineSize)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read implements the core.DataSource interface
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &JSONReaderError{Op: "read", Line: j.line, Err: err}
		}
		if !j.scanner.Scan() {
			if err := j.scanner.Err(); err != nil {
				return nil, &JSONReaderError{Op: "scan", Line: j.line + 1, Err: err}
			}
			return nil, io.EOF
		}
		j.line++

		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var record core.Record
		if err := dec.Decode(&record); err != nil {
			return nil, &JSONReaderError{Op: "decode", Line: j.line, Err: err}
		}
		if record == nil {
			return nil, &JSONReaderError{Op: "decode", Line: j.line, Err: fmt.Errorf("line is not a JSON object")}
		}
		j.read++
		return record, nil
	}
}

// RecordsRead returns the number of records returned so far.
func (j *JSONReader) RecordsRead() int64 {
	return j.read
}

// Close implements the core.DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
