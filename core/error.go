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
	"errors"
	"fmt"
	"strings"
)

// Per-record problems (MalformedRecordError) are recoverable and only drop the
// record. Load-time problems (SchemaMismatchError, DestinationUnavailableError,
// RejectedRowsError) are fatal to the run and guarantee that nothing was
// written. SourceUnavailableError aborts a fetch before any load is attempted.

// ErrTableNotFound is wrapped by a SchemaMismatchError when a CREATE_NEVER load
// targets a missing table.
var ErrTableNotFound = errors.New("table not found")

// MalformedRecordError reports a raw record whose field cannot be parsed.
type MalformedRecordError struct {
	Field string      // Field that failed to parse
	Value interface{} // Offending raw value
	Err   error       // Underlying parse error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: field %s value %v (%T): %v", e.Field, e.Value, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// SchemaMismatchError reports a destination table whose schema differs from
// the declared one, or that is missing under CREATE_NEVER.
type SchemaMismatchError struct {
	Table string   // Destination table
	Diffs []string // Field level differences
	Err   error    // Underlying cause, if any
}

func (e *SchemaMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema mismatch on %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("schema mismatch on %s: %s", e.Table, strings.Join(e.Diffs, "; "))
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// DestinationUnavailableError reports a destination that cannot be reached or
// that failed the write as a whole.
type DestinationUnavailableError struct {
	Op          string // Operation that failed (e.g., "connect", "schema", "create", "write")
	Table       string // Destination table, if known
	RowsWritten int64  // Rows the destination reports as committed; zero unless it says otherwise
	Err         error  // Underlying error
}

func (e *DestinationUnavailableError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("destination %s [%s]: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("destination %s: %v", e.Op, e.Err)
}

func (e *DestinationUnavailableError) Unwrap() error {
	return e.Err
}

// RowError identifies one rejected row and the reason.
type RowError struct {
	Index  int64  `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (r RowError) String() string {
	if r.Field == "" {
		return fmt.Sprintf("row %d: %s", r.Index, r.Reason)
	}
	return fmt.Sprintf("row %d field %s: %s", r.Index, r.Field, r.Reason)
}

// RejectedRowsError reports rows refused by schema validation or by the
// destination. The whole load is discarded: zero rows were written.
type RejectedRowsError struct {
	Table    string     // Destination table
	Rows     []RowError // Rejected rows, possibly truncated to a sample
	Rejected int64      // Total number of rejected rows
}

func (e *RejectedRowsError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%d row(s) rejected by %s, nothing written: %s", e.Rejected, e.Table, strings.Join(parts, "; "))
}

// SourceUnavailableError reports a failed external fetch.
type SourceUnavailableError struct {
	Op         string // Operation that failed (e.g., "request", "status", "decode")
	URL        string // URL being fetched
	StatusCode int    // HTTP status code if applicable
	Err        error  // Underlying error
}

func (e *SourceUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("source %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives per-record errors that a stage recovered from.
// Custom error handlers can be used to collect, count or escalate errors.
type ErrorHandler interface {
	// HandleError processes an error that occurred while processing a record.
	// Returning a non-nil error will stop the stage; returning nil will continue.
	HandleError(ctx context.Context, record Record, err error) error
}

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
type ErrorHandlerFunc func(ctx context.Context, record Record, err error) error

// HandleError implements the ErrorHandler interface for ErrorHandlerFunc.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, record Record, err error) error {
	return f(ctx, record, err)
}
