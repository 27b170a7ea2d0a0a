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

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl"
	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/filter"
	"github.com/aaronlmathis/tripetl/internal/config"
	"github.com/aaronlmathis/tripetl/load"
	"github.com/aaronlmathis/tripetl/readers"
	"github.com/aaronlmathis/tripetl/transform"
	"github.com/aaronlmathis/tripetl/trip"
)

func newBatchCmd(loadCfg loadFunc) *cobra.Command {
	var limit int

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Transform the taxi trip window and replace the output table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(loadCfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cmd.Flags().Changed("limit") {
				cfg.Source.Limit = limit
			}
			return runBatch(cmd, cfg, logger)
		},
	}
	batchCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum raw rows to read (0 reads the whole window)")
	return batchCmd
}

func runBatch(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, err := openSource(ctx, cfg.Source)
	if err != nil {
		return err
	}
	dest, err := cfg.Location().NewDestination(ctx)
	if err != nil {
		src.Close()
		return err
	}
	defer dest.Close()

	pb := tripetl.NewPipeline().
		From(src).
		Stage(trip.NewBatchStage(trip.WithLogger(logger))).
		To(load.NewStage(dest, load.WithLogger(logger)), cfg.Batch.Table).
		WithLogger(logger)
	if cfg.Batch.SkipErrors {
		pb.WithErrorStrategy(tripetl.SkipErrors).
			WithErrorHandler(prepareErrorBudget(cfg.Batch.MaxPrepareErrors, logger))
	}
	prepare(pb, cfg.Source)

	pipeline, err := pb.Build()
	if err != nil {
		return err
	}
	report, err := pipeline.Execute(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// prepare adds the record preparation that file and S3 exports need and the
// configured row filters. The PostgreSQL query already applies the window
// start and limit.
func prepare(pb *tripetl.PipelineBuilder, cfg config.SourceConfig) {
	var filters []core.Filter
	if !strings.EqualFold(cfg.Kind, config.SourcePostgres) {
		var steps []core.Transformer
		if cfg.PortalHeaders {
			steps = append(steps,
				transform.Rename(transform.PortalHeaders),
				transform.StripCurrency(trip.ColFare))
		}
		steps = append(steps,
			transform.Select(trip.SourceColumns()...),
			transform.TrimSpace(trip.ColUniqueKey, trip.ColPaymentType, trip.ColTripStart, trip.ColTripEnd))
		pb.Transform(transform.Chain(steps...)).
			Limit(int64(cfg.Limit))
		filters = append(filters, filter.TimeAtOrAfter(trip.ColTripStart, cfg.WindowStart))
	}

	if !cfg.WindowEnd.IsZero() {
		filters = append(filters, filter.TimeBefore(trip.ColTripStart, cfg.WindowEnd))
	}
	if len(cfg.PaymentTypes) > 0 {
		filters = append(filters, filter.In(trip.ColPaymentType, values(cfg.PaymentTypes)...))
	}
	if len(cfg.ExcludePaymentTypes) > 0 {
		filters = append(filters, filter.Not(filter.In(trip.ColPaymentType, values(cfg.ExcludePaymentTypes)...)))
	}
	if cfg.RequireKey {
		filters = append(filters, filter.NotNull(trip.ColUniqueKey))
	}
	if len(filters) > 0 {
		pb.Filter(filter.And(filters...))
	}
}

func values(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// prepareErrorBudget counts records skipped after a preparation error and
// stops the batch once more than budget have failed. A zero budget never stops.
func prepareErrorBudget(budget int, logger *zap.Logger) core.ErrorHandler {
	var failed int
	return core.ErrorHandlerFunc(func(ctx context.Context, record core.Record, err error) error {
		failed++
		if budget > 0 && failed > budget {
			return fmt.Errorf("more than %d records failed preparation: %w", budget, err)
		}
		logger.Debug("record failed preparation", zap.Int("failed", failed), zap.Error(err))
		return nil
	})
}

// openSource opens the raw trip source selected by cfg.
func openSource(ctx context.Context, cfg config.SourceConfig) (core.DataSource, error) {
	switch strings.ToLower(cfg.Kind) {
	case config.SourcePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("SOURCE_DSN is required for source kind %q", cfg.Kind)
		}
		return readers.NewPostgresReader(
			readers.WithPostgresDSN(cfg.DSN),
			readers.WithTripWindow(cfg.Table, cfg.WindowStart, cfg.Limit),
		)
	case config.SourceFiles:
		return readers.OpenFiles(cfg.Files...)
	case config.SourceS3:
		opts := []readers.ReaderOptionS3{
			readers.WithS3Bucket(cfg.Bucket),
			readers.WithS3Prefix(cfg.Prefix),
			readers.WithS3Recursive(true),
		}
		if cfg.Region != "" {
			opts = append(opts, readers.WithS3Region(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, readers.WithS3Endpoint(cfg.Endpoint), readers.WithS3PathStyle(cfg.PathStyle))
		}
		return readers.NewS3Reader(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.Kind)
	}
}
