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
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/google/uuid"
)

// ManifestName is the file holding a table's schema and committed parts.
const ManifestName = "_manifest.json"

// FileTableError wraps file table errors with context about the operation.
type FileTableError struct {
	Op    string // Operation that failed (e.g., "manifest", "write_part", "commit")
	Table string // Table being accessed
	Err   error  // Underlying error
}

func (e *FileTableError) Error() string {
	return fmt.Sprintf("file table %s [%s]: %v", e.Op, e.Table, e.Err)
}

func (e *FileTableError) Unwrap() error {
	return e.Err
}

// partWriter encodes one part file of a table.
type partWriter interface {
	ext() string
	writePart(ctx context.Context, path string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error)
}

type manifest struct {
	Schema    core.Schema `json:"schema"`
	Parts     []string    `json:"parts"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FileTableDestination stores each table as a directory of part files listed
// by a manifest. A write produces a new part and then replaces the manifest
// with a rename, so readers of the manifest see either the old or the new
// table content. TRUNCATE commits a manifest that lists only the new part.
type FileTableDestination struct {
	root   string
	format partWriter
	mu     sync.Mutex
}

func newFileTableDestination(root string, format partWriter) (*FileTableDestination, error) {
	if root == "" {
		return nil, &FileTableError{Op: "validate", Err: fmt.Errorf("root directory is required")}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &FileTableError{Op: "create_directory", Err: err}
	}
	return &FileTableDestination{root: root, format: format}, nil
}

// TableSchema implements core.Destination.
func (d *FileTableDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	if err := validateTableName(table); err != nil {
		return core.Schema{}, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest(table)
	if errors.Is(err, os.ErrNotExist) {
		return core.Schema{}, false, nil
	}
	if err != nil {
		return core.Schema{}, false, err
	}
	return m.Schema, true, nil
}

// CreateTable implements core.Destination. Creating an existing table is a no-op.
func (d *FileTableDestination) CreateTable(ctx context.Context, table string, schema core.Schema) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.readManifest(table); err == nil {
		return nil
	}
	if err := os.MkdirAll(d.tableDir(table), 0o755); err != nil {
		return &FileTableError{Op: "create_directory", Table: table, Err: err}
	}
	return d.writeManifest(table, manifest{Schema: schema, Parts: []string{}, UpdatedAt: time.Now().UTC()})
}

// Write implements core.Destination.
func (d *FileTableDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (int64, error) {
	if err := validateTableName(table); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest(table)
	if errors.Is(err, os.ErrNotExist) {
		return 0, &FileTableError{Op: "manifest", Table: table, Err: core.ErrTableNotFound}
	}
	if err != nil {
		return 0, err
	}

	id := uuid.NewString()
	part := fmt.Sprintf("part-%s-%s%s", time.Now().UTC().Format("20060102T150405"), id[:8], d.format.ext())
	tmp := filepath.Join(d.tableDir(table), ".tmp-"+id+d.format.ext())

	n, err := d.format.writePart(ctx, tmp, schema, rows)
	if err != nil {
		os.Remove(tmp)
		var rejected *core.RejectedRowsError
		if errors.As(err, &rejected) && rejected.Table == "" {
			rejected.Table = table
		}
		return 0, err
	}
	if err := os.Rename(tmp, filepath.Join(d.tableDir(table), part)); err != nil {
		os.Remove(tmp)
		return 0, &FileTableError{Op: "write_part", Table: table, Err: err}
	}

	old := m.Parts
	if mode == core.WriteTruncate {
		m.Parts = []string{part}
	} else {
		m.Parts = append(append([]string{}, old...), part)
	}
	m.UpdatedAt = time.Now().UTC()

	if err := d.writeManifest(table, m); err != nil {
		os.Remove(filepath.Join(d.tableDir(table), part))
		return 0, err
	}

	if mode == core.WriteTruncate {
		for _, p := range old {
			os.Remove(filepath.Join(d.tableDir(table), p))
		}
	}
	return n, nil
}

// Files returns the paths of the committed parts of table, oldest first.
func (d *FileTableDestination) Files(table string) ([]string, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest(table)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(m.Parts))
	for i, p := range m.Parts {
		paths[i] = filepath.Join(d.tableDir(table), p)
	}
	return paths, nil
}

// Close implements core.Destination.
func (d *FileTableDestination) Close() error {
	return nil
}

// validateTableName keeps a table inside the root: one path element, no
// separators and no dot names.
func validateTableName(table string) error {
	if table == "" || table == "." || table == ".." ||
		strings.ContainsAny(table, `/\`) || strings.Contains(table, "..") || filepath.IsAbs(table) {
		return &FileTableError{Op: "validate", Table: table, Err: fmt.Errorf("invalid table name %q", table)}
	}
	return nil
}

func (d *FileTableDestination) tableDir(table string) string {
	return filepath.Join(d.root, table)
}

func (d *FileTableDestination) readManifest(table string) (manifest, error) {
	data, err := os.ReadFile(filepath.Join(d.tableDir(table), ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return manifest{}, err
		}
		return manifest{}, &FileTableError{Op: "manifest", Table: table, Err: err}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, &FileTableError{Op: "manifest", Table: table, Err: err}
	}
	return m, nil
}

func (d *FileTableDestination) writeManifest(table string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &FileTableError{Op: "commit", Table: table, Err: err}
	}

	path := filepath.Join(d.tableDir(table), ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &FileTableError{Op: "commit", Table: table, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &FileTableError{Op: "commit", Table: table, Err: err}
	}
	return nil
}

// fileValue converts a row value to the representation stored for field f.
// NUMERIC values are kept as exact decimal text.
func fileValue(f core.Field, value interface{}) interface{} {
	v := core.Plain(value)
	if v == nil {
		return nil
	}
	switch f.Type {
	case core.FieldFloat:
		if x, ok := core.AsFloat64(v); ok {
			return x
		}
	case core.FieldNumeric:
		if x, ok := v.(interface{ String() string }); ok {
			return x.String()
		}
	case core.FieldTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}
