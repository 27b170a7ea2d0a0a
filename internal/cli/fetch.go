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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/internal/config"
	"github.com/aaronlmathis/tripetl/load"
	"github.com/aaronlmathis/tripetl/price"
)

func newFetchCmd(loadCfg loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch current prices and append them to the prices table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(loadCfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dest, err := cfg.Location().NewDestination(ctx)
			if err != nil {
				return err
			}
			defer dest.Close()

			status := newPriceJob(cfg, dest, logger).Run(ctx)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(status); err != nil {
				return err
			}
			if !status.OK() {
				return fmt.Errorf("fetch failed: %s", status.Message)
			}
			return nil
		},
	}
}

// newPriceJob wires the fetcher and load stage for the prices table.
func newPriceJob(cfg config.Config, dest core.Destination, logger *zap.Logger) *price.Job {
	fetcher := price.NewFetcher(cfg.Fetch.URL,
		price.WithIDs(cfg.Fetch.IDs...),
		price.WithAPIKey(cfg.Fetch.APIKeyHeader, cfg.Fetch.APIKey),
		price.WithTimeout(cfg.Fetch.Timeout),
	)
	return price.NewJob(fetcher, load.NewStage(dest, load.WithLogger(logger)),
		price.WithTable(cfg.Fetch.Table),
		price.WithLogger(logger),
	)
}
