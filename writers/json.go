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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/aaronlmathis/tripetl/core"
)

// JSONWriter writes rows as line-delimited JSON objects with keys in schema
// order.
type JSONWriter struct {
	writer *bufio.Writer
	closer io.Closer
	schema core.Schema
	buf    bytes.Buffer
}

// NewJSONWriter creates a new JSON lines writer for rows of schema.
func NewJSONWriter(w io.WriteCloser, schema core.Schema) *JSONWriter {
	return &JSONWriter{
		writer: bufio.NewWriter(w),
		closer: w,
		schema: schema,
	}
}

// Write encodes one row.
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	j.buf.Reset()
	j.buf.WriteByte('{')
	for i, f := range j.schema.Fields {
		if i > 0 {
			j.buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Name)
		j.buf.Write(key)
		j.buf.WriteByte(':')

		data, err := json.Marshal(fileValue(f, record[f.Name]))
		if err != nil {
			return fmt.Errorf("failed to marshal field %s to JSON: %w", f.Name, err)
		}
		j.buf.Write(data)
	}
	j.buf.WriteString("}\n")

	if _, err := j.writer.Write(j.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write JSON data: %w", err)
	}
	return nil
}

// Flush writes buffered data to the underlying writer.
func (j *JSONWriter) Flush() error {
	return j.writer.Flush()
}

// Close flushes and closes the underlying writer.
func (j *JSONWriter) Close() error {
	if err := j.Flush(); err != nil {
		j.closer.Close()
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// NewJSONLDestination creates a file table destination rooted at root whose
// parts are JSON lines files.
func NewJSONLDestination(root string) (*FileTableDestination, error) {
	return newFileTableDestination(root, jsonlPartWriter{})
}

type jsonlPartWriter struct{}

func (jsonlPartWriter) ext() string {
	return ".jsonl"
}

func (jsonlPartWriter) writePart(ctx context.Context, path string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create JSON lines file %s: %w", path, err)
	}
	w := NewJSONWriter(file, schema)

	var n int64
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
		n++
	}

	if err := file.Sync(); err != nil {
		w.Close()
		return 0, err
	}
	return n, w.Close()
}
