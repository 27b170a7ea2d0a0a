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

// Package tripetl wires the historical taxi trip batch: a raw record source,
// optional record preparation, the trip transform stage and the load stage.
//
// Example usage:
//
//	src, _ := readers.NewPostgresReader(readers.WithPostgresDSN(dsn),
//	    readers.WithTripWindow("taxi_trips", readers.DefaultTripWindowStart, readers.DefaultTripLimit))
//	pipeline, err := tripetl.NewPipeline().
//	    From(src).
//	    To(load.NewStage(dest), "trips_transformed").
//	    Build()
//	if err != nil { log.Fatal(err) }
//	report, err := pipeline.Execute(ctx)
//
// Execute streams records: nothing is buffered between the source and the
// destination's write step.
package tripetl

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/load"
	"github.com/aaronlmathis/tripetl/trip"
)

// ErrorStrategy defines how errors raised while preparing raw records are handled.
type ErrorStrategy int

const (
	// FailFast stops the pipeline on the first preparation error.
	FailFast ErrorStrategy = iota
	// SkipErrors drops the failing record, reports it to the error handler and continues.
	SkipErrors
)

// DefaultTable is the batch output table.
const DefaultTable = "trips_transformed"

// PipelineBuilder provides a fluent API for constructing a trip batch pipeline.
// Use NewPipeline() to create a new builder, then chain From, Transform, Filter, To, and configuration methods.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			table:    DefaultTable,
			strategy: FailFast,
			logger:   zap.NewNop(),
		},
	}
}

// From sets the raw record source.
func (pb *PipelineBuilder) From(source core.DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a raw record rewrite, applied in order before filters.
func (pb *PipelineBuilder) Transform(transformer core.Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a raw record predicate.
func (pb *PipelineBuilder) Filter(filter core.Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a mapping transformation to the pipeline using a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record core.Record) (core.Record, error)) *PipelineBuilder {
	return pb.Transform(core.TransformFunc(fn))
}

// Limit stops reading after n records have passed the filters. A limit <= 0 reads everything.
func (pb *PipelineBuilder) Limit(n int64) *PipelineBuilder {
	pb.pipeline.limit = n
	return pb
}

// Stage replaces the default trip stage.
func (pb *PipelineBuilder) Stage(stage *trip.BatchStage) *PipelineBuilder {
	pb.pipeline.stage = stage
	return pb
}

// To sets the load stage and the table written under the batch disposition.
func (pb *PipelineBuilder) To(loader *load.Stage, table string) *PipelineBuilder {
	pb.pipeline.loader = loader
	if table != "" {
		pb.pipeline.table = table
	}
	return pb
}

// WithErrorStrategy sets the error handling strategy for record preparation.
func (pb *PipelineBuilder) WithErrorStrategy(strategy ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets the handler told about skipped preparation errors.
// Returning an error from the handler stops the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler core.ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// WithLogger sets the logger. The default trip stage logs through it too.
func (pb *PipelineBuilder) WithLogger(logger *zap.Logger) *PipelineBuilder {
	if logger != nil {
		pb.pipeline.logger = logger
	}
	return pb
}

// Build validates and constructs the Pipeline from the builder.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.loader == nil {
		return nil, fmt.Errorf("pipeline requires a load stage")
	}
	if pb.pipeline.stage == nil {
		pb.pipeline.stage = trip.NewBatchStage(trip.WithLogger(pb.pipeline.logger))
	}
	return pb.pipeline, nil
}

// Pipeline runs one batch: source → prepare → trip stage → load stage.
type Pipeline struct {
	source       core.DataSource
	transformers []core.Transformer
	filters      []core.Filter
	limit        int64
	stage        *trip.BatchStage
	loader       *load.Stage
	table        string
	strategy     ErrorStrategy
	errorHandler core.ErrorHandler
	logger       *zap.Logger
}

// Report summarizes one Execute call.
type Report struct {
	Prepared      int64       `json:"prepared"`       // Raw records that passed preparation
	PreFiltered   int64       `json:"pre_filtered"`   // Raw records rejected by pipeline filters
	PrepareErrors int64       `json:"prepare_errors"` // Raw records skipped after a preparation error
	Trips         trip.Report `json:"trips"`          // Trip stage counts
	Load          load.Result `json:"load"`           // Load outcome
}

// Execute runs the pipeline once and closes the source. The destination
// table is only modified if every stage succeeds.
func (p *Pipeline) Execute(ctx context.Context) (Report, error) {
	defer p.source.Close()

	var report Report
	prepared := &preparedSource{pipeline: p, report: &report}

	trips, tripReport := p.stage.TransformAll(ctx, prepared)
	result, err := p.loader.Load(ctx, p.table, trip.Schema(), core.BatchDisposition, trip.Records(trips))
	report.Trips = *tripReport
	report.Load = result

	fields := []zap.Field{
		zap.String("table", p.table),
		zap.Int64("read", report.Trips.Read),
		zap.Int64("pre_filtered", report.PreFiltered),
		zap.Int64("prepare_errors", report.PrepareErrors),
		zap.Int64("rows_written", result.RowsWritten),
	}
	if err != nil {
		p.logger.Error("trip batch failed", append(fields, zap.Error(err))...)
		return report, err
	}
	p.logger.Info("trip batch finished", fields...)
	return report, nil
}

// preparedSource applies the pipeline's transformers, filters and limit to
// the raw source.
type preparedSource struct {
	pipeline *Pipeline
	report   *Report
}

func (s *preparedSource) Read(ctx context.Context) (core.Record, error) {
	p := s.pipeline
	for {
		if p.limit > 0 && s.report.Prepared >= p.limit {
			return nil, io.EOF
		}

		record, err := p.source.Read(ctx)
		if err != nil {
			return nil, err
		}

		record, include, err := p.prepare(ctx, record)
		if err != nil {
			if herr := p.handleError(ctx, record, err); herr != nil {
				return nil, herr
			}
			s.report.PrepareErrors++
			continue
		}
		if !include {
			s.report.PreFiltered++
			continue
		}
		s.report.Prepared++
		return record, nil
	}
}

func (s *preparedSource) Close() error {
	return nil
}

func (p *Pipeline) prepare(ctx context.Context, record core.Record) (core.Record, bool, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return record, false, err
		}
		current = transformed
	}
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, current)
		if err != nil {
			return current, false, err
		}
		if !include {
			return current, false, nil
		}
	}
	return current, true, nil
}

// handleError returns nil when the pipeline should continue past err.
func (p *Pipeline) handleError(ctx context.Context, record core.Record, err error) error {
	switch p.strategy {
	case SkipErrors:
		p.logger.Warn("skipping record that failed preparation", zap.Error(err))
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return fmt.Errorf("preparing record: %w", err)
	}
}
