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
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl/internal/server"
)

func newServeCmd(loadCfg loadFunc) *cobra.Command {
	var port string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fetch job as an HTTP trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(loadCfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if port != "" {
				cfg.Port = port
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dest, err := cfg.Location().NewDestination(ctx)
			if err != nil {
				return err
			}
			defer dest.Close()

			s := server.NewServer(newPriceJob(cfg, dest, logger), logger)
			httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: s.R}

			errc := make(chan error, 1)
			go func() {
				logger.Info("http listening", zap.String("port", cfg.Port))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = httpServer.Shutdown(shutdownCtx)
			logger.Info("shutdown complete")
			return err
		},
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (defaults to PORT)")
	return serveCmd
}
