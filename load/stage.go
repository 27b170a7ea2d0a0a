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

// Package load writes validated rows into a destination table under a create
// and write disposition. A load either commits every row or none.
package load

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxRowErrors bounds the row errors carried by a RejectedRowsError.
const DefaultMaxRowErrors = 100

var errRowRejected = errors.New("row rejected by schema")

// Result describes a committed load.
type Result struct {
	RunID       string           `json:"run_id"`
	Table       string           `json:"table"`
	Disposition core.Disposition `json:"-"`
	RowsWritten int64            `json:"rows_written"`
	Duration    time.Duration    `json:"duration"`
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the logger for load events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxRowErrors bounds the number of row errors collected on rejection.
func WithMaxRowErrors(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxRowErrors = n
		}
	}
}

// Stage loads rows into one destination.
type Stage struct {
	dest         core.Destination
	logger       *zap.Logger
	maxRowErrors int
}

// NewStage creates a load stage writing to dest.
func NewStage(dest core.Destination, opts ...Option) *Stage {
	s := &Stage{
		dest:         dest,
		logger:       zap.NewNop(),
		maxRowErrors: DefaultMaxRowErrors,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSlice loads a finite set of rows. See Load.
func (s *Stage) LoadSlice(ctx context.Context, table string, schema core.Schema, disp core.Disposition, rows []core.Record) (Result, error) {
	seq := func(yield func(core.Record, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
	return s.Load(ctx, table, schema, disp, seq)
}

// Load writes rows to table.
//
// The destination schema is checked first: a missing table is created under
// CREATE_IF_NEEDED and is an error under CREATE_NEVER, and an existing table
// whose schema differs from schema in names, types, order or nullability is
// rejected. Rows are then checked against schema while they stream to the
// destination. The first invalid row aborts the write; the remaining rows are
// still scanned so the returned *core.RejectedRowsError lists every problem
// up to the configured bound.
//
// On error nothing was written. Under WRITE_TRUNCATE, running the same load
// twice leaves the same table content.
func (s *Stage) Load(ctx context.Context, table string, schema core.Schema, disp core.Disposition, rows iter.Seq2[core.Record, error]) (Result, error) {
	start := time.Now()
	res := Result{RunID: uuid.NewString(), Table: table, Disposition: disp}
	log := s.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("table", table),
		zap.Stringer("disposition", disp),
	)

	if err := disp.Validate(); err != nil {
		return res, fmt.Errorf("load %s: invalid disposition: %w", table, err)
	}
	if err := schema.Validate(); err != nil {
		return res, fmt.Errorf("load %s: invalid schema: %w", table, err)
	}
	if err := s.prepare(ctx, table, schema, disp.Create); err != nil {
		log.Error("load aborted", zap.Error(err))
		return res, err
	}

	var (
		rejected []core.RowError
		count    int64
		srcErr   error
	)
	checked := func(yield func(core.Record, error) bool) {
		var idx int64
		open := true
		for rec, err := range rows {
			if err != nil {
				srcErr = err
				if open {
					yield(nil, err)
				}
				return
			}
			if errs := schema.Conform(idx, rec); len(errs) > 0 {
				count++
				for _, e := range errs {
					if len(rejected) < s.maxRowErrors {
						rejected = append(rejected, e)
					}
				}
				if open {
					yield(nil, errRowRejected)
					open = false
				}
			} else if open {
				if cerr := ctx.Err(); cerr != nil {
					yield(nil, cerr)
					return
				}
				open = yield(rec, nil)
				if !open && count == 0 {
					return
				}
			}
			idx++
		}
	}

	n, err := s.dest.Write(ctx, table, schema, disp.Write, checked)
	res.Duration = time.Since(start)

	switch {
	case count > 0:
		err = &core.RejectedRowsError{Table: table, Rows: rejected, Rejected: count}
	case srcErr != nil:
		err = fmt.Errorf("load %s: reading rows: %w", table, srcErr)
	case err != nil:
		err = destinationError("write", table, err)
	}
	if err != nil {
		log.Error("load failed", zap.Error(err), zap.Duration("duration", res.Duration))
		return res, err
	}

	res.RowsWritten = n
	log.Info("load committed",
		zap.Int64("rows_written", n),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *Stage) prepare(ctx context.Context, table string, schema core.Schema, create core.CreateDisposition) error {
	existing, found, err := s.dest.TableSchema(ctx, table)
	if err != nil {
		return destinationError("schema", table, err)
	}

	if !found {
		if create == core.CreateNever {
			return &core.SchemaMismatchError{Table: table, Err: core.ErrTableNotFound}
		}
		if err := s.dest.CreateTable(ctx, table, schema); err != nil {
			return destinationError("create", table, err)
		}
		s.logger.Info("created table", zap.String("table", table), zap.Strings("fields", schema.Names()))
		return nil
	}

	if diffs := schema.Diff(existing); len(diffs) > 0 {
		return &core.SchemaMismatchError{Table: table, Diffs: diffs}
	}
	return nil
}

// destinationError keeps typed load errors and wraps everything else as a
// DestinationUnavailableError.
func destinationError(op, table string, err error) error {
	var (
		du *core.DestinationUnavailableError
		rr *core.RejectedRowsError
		sm *core.SchemaMismatchError
	)
	if errors.As(err, &du) || errors.As(err, &rr) || errors.As(err, &sm) {
		return err
	}
	return &core.DestinationUnavailableError{Op: op, Table: table, Err: err}
}
