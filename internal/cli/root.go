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

// Package cli implements the tripetl command line using cobra.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl/internal/config"
	"github.com/aaronlmathis/tripetl/internal/logging"
)

// loadFunc resolves the configuration for a command run.
type loadFunc func() (config.Config, error)

// NewRootCmd creates the root command with the batch, fetch and serve
// sub-commands attached.
func NewRootCmd() *cobra.Command {
	return newRootCmd(config.Load)
}

func newRootCmd(loadCfg loadFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tripetl",
		Short: "Taxi trip batch transform and crypto price fetch jobs",
		Long: `tripetl moves records into a warehouse table.

  batch  reads historical taxi trips, derives miles per second and replaces the output table
  fetch  fetches current crypto prices and appends them to the prices table
  serve  exposes fetch as an HTTP trigger`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(newBatchCmd(loadCfg))
	rootCmd.AddCommand(newFetchCmd(loadCfg))
	rootCmd.AddCommand(newServeCmd(loadCfg))
	return rootCmd
}

// setup loads the configuration and builds the logger for a command.
func setup(loadCfg loadFunc) (config.Config, *zap.Logger, error) {
	cfg, err := loadCfg()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
