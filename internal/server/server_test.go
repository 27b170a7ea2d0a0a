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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gin "github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aaronlmathis/tripetl/price"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	status price.Status
	calls  int
}

func (r *stubRunner) Run(ctx context.Context) price.Status {
	r.calls++
	return r.status
}

func serve(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, price.Status) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.R.ServeHTTP(w, req)

	var st price.Status
	if w.Code != http.StatusNotFound {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	}
	return w, st
}

func TestServer_RunsJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &stubRunner{status: price.Status{Status: price.StatusSuccess, Message: "Loaded 3 rows", RowsWritten: 3}}
	obs, logs := observer.New(zap.InfoLevel)
	s := NewServer(runner, zap.New(obs))

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		w, st := serve(t, s, method, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Success", st.Status)
		assert.Equal(t, int64(3), st.RowsWritten)
	}
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 2, logs.FilterMessage("http_request").Len())
}

func TestServer_JobError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &stubRunner{status: price.Status{Status: price.StatusError, Message: "API request failed: boom"}}
	s := NewServer(runner, nil)

	w, st := serve(t, s, http.MethodPost, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error", st.Status)
	assert.Equal(t, "API request failed: boom", st.Message)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "rows_written")
}

func TestServer_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &stubRunner{}
	s := NewServer(runner, nil)

	w := httptest.NewRecorder()
	s.R.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Zero(t, runner.calls)
}
