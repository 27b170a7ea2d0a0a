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

package price

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/load"
	"go.uber.org/zap"
)

// DefaultTable is the destination table of the fetch job.
const DefaultTable = "prices"

// Status values reported by Job.Run.
const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

// Status is the outcome of one fetch run.
type Status struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	RowsWritten int64  `json:"rows_written"`
}

// OK reports whether the run succeeded.
func (s Status) OK() bool {
	return s.Status == StatusSuccess
}

// Source provides a price payload.
type Source interface {
	Fetch(ctx context.Context) (Payload, error)
}

// Loader writes rows to a table.
type Loader interface {
	LoadSlice(ctx context.Context, table string, schema core.Schema, disp core.Disposition, rows []core.Record) (load.Result, error)
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithTable sets the destination table; empty keeps DefaultTable.
func WithTable(table string) JobOption {
	return func(j *Job) {
		if table != "" {
			j.table = table
		}
	}
}

// WithLogger sets the job logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) JobOption {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

// Job fetches prices, normalizes them and appends them to a table.
type Job struct {
	source Source
	loader Loader
	table  string
	logger *zap.Logger
}

// NewJob creates a fetch job.
func NewJob(source Source, loader Loader, opts ...JobOption) *Job {
	j := &Job{
		source: source,
		loader: loader,
		table:  DefaultTable,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs one fetch and append under CREATE_IF_NEEDED/WRITE_APPEND.
// Failures, including panics in collaborators, are reported in the returned
// Status. A failed fetch performs no load.
func (j *Job) Run(ctx context.Context) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = j.fail(fmt.Sprintf("An unexpected error occurred: %v", r), fmt.Errorf("panic: %v", r))
		}
	}()

	payload, err := j.source.Fetch(ctx)
	if err != nil {
		var sue *core.SourceUnavailableError
		if errors.As(err, &sue) {
			return j.fail(fmt.Sprintf("API request failed: %v", err), err)
		}
		return j.fail(fmt.Sprintf("An unexpected error occurred: %v", err), err)
	}

	rows := Records(Normalize(payload))
	res, err := j.loader.LoadSlice(ctx, j.table, Schema(), core.FetchDisposition, rows)
	if err != nil {
		var rejected *core.RejectedRowsError
		if errors.As(err, &rejected) {
			return j.fail(fmt.Sprintf("Encountered errors while inserting rows: %v", rejected.Rows), err)
		}
		return j.fail(fmt.Sprintf("An unexpected error occurred: %v", err), err)
	}

	j.logger.Info("prices loaded",
		zap.String("table", j.table),
		zap.String("run_id", res.RunID),
		zap.Int64("rows_written", res.RowsWritten),
	)
	return Status{
		Status:      StatusSuccess,
		Message:     fmt.Sprintf("Loaded %d rows", res.RowsWritten),
		RowsWritten: res.RowsWritten,
	}
}

func (j *Job) fail(msg string, err error) Status {
	j.logger.Error("price fetch failed", zap.String("table", j.table), zap.Error(err))
	return Status{Status: StatusError, Message: msg}
}
