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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aaronlmathis/tripetl/core"
)

const (
	// DefaultURL is the simple price endpoint of the CoinGecko API.
	DefaultURL = "https://api.coingecko.com/api/v3/simple/price"
	// DefaultAPIKeyHeader carries a demo plan API key.
	DefaultAPIKeyHeader = "x-cg-demo-api-key"
)

// DefaultIDs are the currencies fetched when none are configured.
var DefaultIDs = []string{"bitcoin", "ethereum", "cardano"}

// FetcherOptions configures the Fetcher.
type FetcherOptions struct {
	IDs             []string      // Currency ids, sent comma separated
	APIKey          string        // Optional API key
	APIKeyHeader    string        // Header carrying APIKey
	Timeout         time.Duration // Request timeout
	MaxResponseSize int64         // Maximum response size in bytes
	UserAgent       string        // User agent string
	Client          *http.Client  // Custom HTTP client
}

// FetcherOption is a functional option for FetcherOptions.
type FetcherOption func(*FetcherOptions)

// WithIDs sets the coin ids requested; an empty list keeps the defaults.
func WithIDs(ids ...string) FetcherOption {
	return func(opts *FetcherOptions) {
		if len(ids) > 0 {
			opts.IDs = ids
		}
	}
}

// WithAPIKey sends key in the given header, or the default header when header is empty.
func WithAPIKey(header, key string) FetcherOption {
	return func(opts *FetcherOptions) {
		if header != "" {
			opts.APIKeyHeader = header
		}
		opts.APIKey = key
	}
}

// WithTimeout bounds each price request.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(opts *FetcherOptions) {
		opts.Timeout = timeout
	}
}

// WithMaxResponseSize caps the response body read, in bytes.
func WithMaxResponseSize(n int64) FetcherOption {
	return func(opts *FetcherOptions) {
		opts.MaxResponseSize = n
	}
}

// WithHTTPClient uses client for requests instead of a default client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(opts *FetcherOptions) {
		opts.Client = client
	}
}

// Fetcher retrieves a price payload with a single GET request. It does not
// retry; a failed fetch is reported to the caller.
type Fetcher struct {
	baseURL string
	client  *http.Client
	opts    *FetcherOptions
}

// NewFetcher creates a fetcher for the given endpoint. An empty baseURL means
// DefaultURL.
func NewFetcher(baseURL string, options ...FetcherOption) *Fetcher {
	opts := &FetcherOptions{
		IDs:             DefaultIDs,
		APIKeyHeader:    DefaultAPIKeyHeader,
		Timeout:         10 * time.Second,
		MaxResponseSize: 1 << 20,
		UserAgent:       "TripETL-PriceFetcher/1.0",
	}
	for _, option := range options {
		option(opts)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Fetcher{baseURL: baseURL, client: client, opts: opts}
}

// URL returns the request URL including query parameters.
func (f *Fetcher) URL() string {
	q := url.Values{}
	q.Set("ids", strings.Join(f.opts.IDs, ","))
	q.Set("vs_currencies", "usd")
	if strings.Contains(f.baseURL, "?") {
		return f.baseURL + "&" + q.Encode()
	}
	return f.baseURL + "?" + q.Encode()
}

// Fetch performs the request and decodes the payload. Every failure is a
// *core.SourceUnavailableError.
func (f *Fetcher) Fetch(ctx context.Context) (Payload, error) {
	u := f.URL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Payload{}, &core.SourceUnavailableError{Op: "request", URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.APIKey != "" {
		req.Header.Set(f.opts.APIKeyHeader, f.opts.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Payload{}, &core.SourceUnavailableError{Op: "request", URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Payload{}, &core.SourceUnavailableError{
			Op:         "status",
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxResponseSize+1))
	if err != nil {
		return Payload{}, &core.SourceUnavailableError{Op: "read", URL: u, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.opts.MaxResponseSize {
		return Payload{}, &core.SourceUnavailableError{
			Op:         "read",
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response exceeds %d bytes", f.opts.MaxResponseSize),
		}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, &core.SourceUnavailableError{Op: "decode", URL: u, StatusCode: resp.StatusCode, Err: err}
	}
	return p, nil
}
