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
	"maps"
	"sync"

	"github.com/aaronlmathis/tripetl/core"
)

type memoryTable struct {
	schema core.Schema
	rows   []core.Record
}

// MemoryDestination keeps tables in process memory. It is used for dry runs
// and tests.
type MemoryDestination struct {
	mu     sync.Mutex
	tables map[string]*memoryTable
}

// NewMemoryDestination creates an empty in-memory destination.
func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{tables: make(map[string]*memoryTable)}
}

// TableSchema implements core.Destination.
func (m *MemoryDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return core.Schema{}, false, nil
	}
	return t.schema, true, nil
}

// CreateTable implements core.Destination. Creating an existing table is a no-op.
func (m *MemoryDestination) CreateTable(ctx context.Context, table string, schema core.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = &memoryTable{schema: schema}
	}
	return nil
}

// Write implements core.Destination. Rows are buffered and committed under
// the lock only once rows is exhausted without error.
func (m *MemoryDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (int64, error) {
	var buf []core.Record
	for rec, err := range rows {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		buf = append(buf, maps.Clone(rec))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("memory table %s: %w", table, core.ErrTableNotFound)
	}
	if mode == core.WriteTruncate {
		t.rows = buf
	} else {
		t.rows = append(t.rows, buf...)
	}
	return int64(len(buf)), nil
}

// Rows returns a copy of the rows of table.
func (m *MemoryDestination) Rows(table string) []core.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	out := make([]core.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = maps.Clone(r)
	}
	return out
}

// Close implements core.Destination.
func (m *MemoryDestination) Close() error {
	return nil
}
