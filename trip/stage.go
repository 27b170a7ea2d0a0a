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

package trip

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/aaronlmathis/tripetl/core"
	"go.uber.org/zap"
)

// DefaultMaxErrorSamples bounds Report.ErrorSamples.
const DefaultMaxErrorSamples = 10

// Report counts what a BatchStage run did with its input. It is complete once
// the sequence returned by TransformAll has been fully consumed.
type Report struct {
	Read         int64    `json:"read"`
	Kept         int64    `json:"kept"`
	Filtered     int64    `json:"filtered"`
	Malformed    int64    `json:"malformed"`
	ErrorSamples []string `json:"error_samples,omitempty"`
}

// Dropped returns the number of records that were not emitted.
func (r *Report) Dropped() int64 {
	return r.Filtered + r.Malformed
}

// StageOption configures a BatchStage.
type StageOption func(*BatchStage)

// WithLogger sets the logger used for per-record warnings and the summary.
func WithLogger(l *zap.Logger) StageOption {
	return func(s *BatchStage) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler sets a handler invoked for each malformed record. A
// non-nil return from the handler ends the sequence with that error.
func WithErrorHandler(h core.ErrorHandler) StageOption {
	return func(s *BatchStage) {
		s.handler = h
	}
}

// WithMaxErrorSamples bounds the number of error messages kept on the report.
func WithMaxErrorSamples(n int) StageOption {
	return func(s *BatchStage) {
		if n >= 0 {
			s.maxSamples = n
		}
	}
}

// BatchStage composes Validator and Transformer over a source of raw trips.
type BatchStage struct {
	validator   Validator
	transformer Transformer
	logger      *zap.Logger
	handler     core.ErrorHandler
	maxSamples  int
}

// NewBatchStage creates a stage with the given options.
func NewBatchStage(opts ...StageOption) *BatchStage {
	s := &BatchStage{
		logger:     zap.NewNop(),
		maxSamples: DefaultMaxErrorSamples,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process validates and transforms one record. It has no side effects, so it
// may be called concurrently.
func (s *BatchStage) Process(rec core.Record) (Output, Verdict) {
	v := s.validator.Validate(rec)
	if !v.Kept() {
		return Output{}, v
	}
	return s.transformer.Transform(v.Raw), v
}

// TransformAll returns a lazy, single pass sequence of transformed trips read
// from src, in source order. Filtered and malformed records are skipped; a
// malformed record is logged and never ends the sequence unless the error
// handler says so. A source or context error is yielded once as the final
// element. The returned Report is filled in as the sequence is consumed.
//
// TransformAll does not close src.
func (s *BatchStage) TransformAll(ctx context.Context, src core.DataSource) (iter.Seq2[Output, error], *Report) {
	report := &Report{}

	seq := func(yield func(Output, error) bool) {
		defer s.summarize(report)

		for {
			if err := ctx.Err(); err != nil {
				yield(Output{}, err)
				return
			}

			rec, err := src.Read(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Output{}, err)
				return
			}
			report.Read++

			out, v := s.Process(rec)
			switch v.Outcome {
			case DropFiltered:
				report.Filtered++
				continue
			case DropMalformed:
				report.Malformed++
				if len(report.ErrorSamples) < s.maxSamples {
					report.ErrorSamples = append(report.ErrorSamples, v.Err.Error())
				}
				s.logger.Warn("skipping malformed trip", zap.Int64("record", report.Read), zap.Error(v.Err))
				if s.handler != nil {
					if herr := s.handler.HandleError(ctx, rec, v.Err); herr != nil {
						yield(Output{}, herr)
						return
					}
				}
				continue
			}

			report.Kept++
			if !yield(out, nil) {
				return
			}
		}
	}

	return seq, report
}

func (s *BatchStage) summarize(r *Report) {
	s.logger.Info("trip transform finished",
		zap.Int64("read", r.Read),
		zap.Int64("kept", r.Kept),
		zap.Int64("dropped_count", r.Dropped()),
		zap.Int64("filtered", r.Filtered),
		zap.Int64("malformed", r.Malformed),
		zap.Strings("error_samples", r.ErrorSamples),
	)
}

// Records adapts a sequence of trips to destination rows.
func Records(trips iter.Seq2[Output, error]) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		for t, err := range trips {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(t.Record(), nil) {
				return
			}
		}
	}
}
