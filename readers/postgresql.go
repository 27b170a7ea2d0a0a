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

// Package readers provides implementations of core.DataSource that stream raw
// trip rows out of PostgreSQL, CSV, JSON lines, Parquet and S3 exports.
package readers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Defaults of the historical trip extraction window.
var (
	DefaultTripWindowStart = time.Date(2019, 9, 5, 7, 15, 0, 0, time.UTC)
	DefaultTripLimit       = 10000
)

// PostgresReaderError provides structured error information for Postgres reader operations
type PostgresReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReader implements core.DataSource for PostgreSQL databases.
// It streams the rows of a single query as raw records.
type PostgresReader struct {
	mu                  sync.Mutex
	db                  *sql.DB
	rows                *sql.Rows
	columnNames         []string
	dbTypes             []string
	values              []interface{}
	scanBuffer          []interface{}
	stats               PostgresReaderStats
	opts                *PostgresReaderOptions
	isFinished          bool
	lastHealthCheck     time.Time
	healthCheckInterval time.Duration
}

// PostgresReaderStats holds statistics about the Postgres reader's performance
type PostgresReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ConnectionTime  time.Duration
}

// PostgresReaderOptions configures the Postgres reader
type PostgresReaderOptions struct {
	DSN                 string        // Database connection string
	Query               string        // SQL query to execute
	Params              []interface{} // Optional query parameters
	ConnMaxLifetime     time.Duration // Maximum connection lifetime
	ConnMaxIdleTime     time.Duration // Maximum connection idle time
	MaxOpenConns        int           // Maximum open connections
	MaxIdleConns        int           // Maximum idle connections
	QueryTimeout        time.Duration // Connect and query start timeout
	HealthCheckInterval time.Duration
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresQuery sets the SQL query and optional parameters.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		opts.Params = nil
		if len(params) > 0 {
			opts.Params = make([]interface{}, len(params))
			copy(opts.Params, params)
		}
	}
}

// WithTripWindow reads table rows whose trip_start_timestamp is at or after
// start, at most limit of them. A limit <= 0 reads every matching row.
func WithTripWindow(table string, start time.Time, limit int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query, opts.Params = TripWindowQuery(table, start, limit)
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
	}
}

// WithPostgresConnectionTimeout sets connection and idle timeouts.
func WithPostgresConnectionTimeout(lifetime, idleTime time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.ConnMaxLifetime = lifetime
		opts.ConnMaxIdleTime = idleTime
	}
}

// WithPostgresHealthCheckInterval sets how often Read pings the server.
func WithPostgresHealthCheckInterval(interval time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.HealthCheckInterval = interval
	}
}

// WithPostgresQueryTimeout sets the query execution timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.QueryTimeout = timeout
	}
}

// TripWindowQuery builds the extraction query over a trips table.
func TripWindowQuery(table string, start time.Time, limit int) (string, []interface{}) {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE trip_start_timestamp >= $1 ORDER BY trip_start_timestamp", strings.Join(parts, "."))
	params := []interface{}{start.UTC()}
	if limit > 0 {
		query += " LIMIT $2"
		params = append(params, limit)
	}
	return query, params
}

// NewPostgresReader creates a new PostgreSQL reader with the given options.
// The query is executed before the reader is returned.
func NewPostgresReader(options ...PostgresReaderOption) (*PostgresReader, error) {
	opts := &PostgresReaderOptions{}
	for _, option := range options {
		option(opts)
	}
	opts = opts.withDefaults()

	if opts.DSN == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if opts.Query == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}

	startTime := time.Now()
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, &PostgresReaderError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PostgresReaderError{Op: "ping", Err: err}
	}

	reader := &PostgresReader{
		db:                  db,
		opts:                opts,
		healthCheckInterval: opts.HealthCheckInterval,
		lastHealthCheck:     time.Now(),
		stats: PostgresReaderStats{
			NullValueCounts: make(map[string]int64),
			ConnectionTime:  time.Since(startTime),
		},
	}

	// The rows outlive the constructor, so the query runs without the
	// constructor's deadline.
	if err := reader.executeQuery(context.Background()); err != nil {
		reader.Close()
		return nil, err
	}
	return reader, nil
}

// Stats returns statistics about the PostgreSQL reader's performance
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Read implements the core.DataSource interface.
// Reads the next record from the PostgreSQL query result. Thread-safe.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		return nil, &PostgresReaderError{Op: "read", Err: err}
	}
	if p.db == nil {
		return nil, &PostgresReaderError{Op: "read", Err: fmt.Errorf("reader is closed")}
	}

	if time.Since(p.lastHealthCheck) > p.healthCheckInterval {
		if err := p.db.PingContext(ctx); err != nil {
			return nil, &core.SourceUnavailableError{Op: "ping", Err: &PostgresReaderError{Op: "ping", Err: err}}
		}
		p.lastHealthCheck = time.Now()
	}

	if p.isFinished || p.rows == nil {
		return nil, io.EOF
	}

	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		p.isFinished = true
		return nil, io.EOF
	}

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record := p.convertRowToRecord()
	p.stats.RecordsRead++
	return record, nil
}

// Close releases all resources held by the PostgreSQL reader
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error

	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rows: %w", err))
		}
		p.rows = nil
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		p.db = nil
	}

	if len(errs) > 0 {
		return &PostgresReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %v", errs)}
	}
	return nil
}

// Schema returns a map of result column name to database type name.
func (p *PostgresReader) Schema() map[string]string {
	schema := make(map[string]string, len(p.columnNames))
	for i, name := range p.columnNames {
		if i < len(p.dbTypes) {
			schema[name] = p.dbTypes[i]
		}
	}
	return schema
}

// withDefaults applies default values to PostgresReaderOptions
func (opts *PostgresReaderOptions) withDefaults() *PostgresReaderOptions {
	result := &PostgresReaderOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	if result.ConnMaxLifetime <= 0 {
		result.ConnMaxLifetime = 5 * time.Minute
	}
	if result.ConnMaxIdleTime <= 0 {
		result.ConnMaxIdleTime = 1 * time.Minute
	}
	if result.MaxOpenConns <= 0 {
		result.MaxOpenConns = 4
	}
	if result.MaxIdleConns <= 0 {
		result.MaxIdleConns = 2
	}
	if result.HealthCheckInterval <= 0 {
		result.HealthCheckInterval = 30 * time.Second
	}
	return result
}

// executeQuery executes the SQL query and prepares the reader for streaming results
func (p *PostgresReader) executeQuery(ctx context.Context) error {
	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, p.opts.Query, p.opts.Params...)
	if err != nil {
		return &PostgresReaderError{Op: "query", Err: err}
	}
	p.rows = rows
	p.stats.QueryDuration = time.Since(startTime)

	columnNames, err := rows.Columns()
	if err != nil {
		return &PostgresReaderError{Op: "columns", Err: err}
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return &PostgresReaderError{Op: "column_types", Err: err}
	}

	p.columnNames = columnNames
	p.dbTypes = make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		p.dbTypes[i] = ct.DatabaseTypeName()
	}
	p.values = make([]interface{}, len(columnNames))
	p.scanBuffer = make([]interface{}, len(columnNames))
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

// convertSQLValue converts a lib/pq driver value of the given database type
// into the loosely typed value of a raw record. NUMERIC text becomes a
// decimal.Decimal so fares and distances keep their exact value.
func convertSQLValue(value interface{}, dbType string) interface{} {
	if b, ok := value.([]byte); ok {
		switch dbType {
		case "NUMERIC":
			if d, err := decimal.NewFromString(string(b)); err == nil {
				return d
			}
			return string(b)
		case "BYTEA":
			return b
		default:
			return string(b)
		}
	}

	switch v := value.(type) {
	case nil, time.Time, bool, int64, float64, string:
		return v
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}

// convertRowToRecord converts the scanned SQL row values to a core.Record
func (p *PostgresReader) convertRowToRecord() core.Record {
	record := make(core.Record, len(p.columnNames))
	for i, columnName := range p.columnNames {
		value := p.values[i]
		if value == nil {
			p.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}
		record[columnName] = convertSQLValue(value, p.dbTypes[i])
	}
	return record
}
