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

// Package server exposes the price fetch job as an HTTP trigger.
package server

import (
	"context"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tripetl/price"
)

// Runner runs one fetch and reports its outcome.
type Runner interface {
	Run(ctx context.Context) price.Status
}

type Server struct {
	R      *gin.Engine
	Job    Runner
	Logger *zap.Logger
}

// NewServer wires the router and middleware. Each POST or GET on "/" runs
// the job once.
func NewServer(job Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := gin.New()

	g.Use(func(cn *gin.Context) {
		start := time.Now()
		cn.Next()
		logger.Info("http_request",
			zap.String("method", cn.Request.Method),
			zap.String("path", cn.Request.URL.Path),
			zap.Int("status", cn.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
	g.Use(gin.Recovery())

	s := &Server{R: g, Job: job, Logger: logger}

	g.GET("/healthz", func(cn *gin.Context) { cn.JSON(http.StatusOK, gin.H{"ok": true}) })
	g.GET("/", s.runJob)
	g.POST("/", s.runJob)
	return s
}

func (s *Server) runJob(c *gin.Context) {
	status := s.Job.Run(c.Request.Context())
	code := http.StatusOK
	if !status.OK() {
		code = http.StatusInternalServerError
	}
	c.JSON(code, status)
}
