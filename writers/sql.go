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

// Package writers provides implementations of core.Destination for the
// warehouses a load can target.
package writers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported SQL dialects, named after their database/sql drivers.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// SQLDestinationError wraps SQL specific errors with context about the operation.
type SQLDestinationError struct {
	Op  string // The operation being performed (e.g., "connect", "create", "insert")
	Err error  // The underlying error
}

// Error returns the error string for SQLDestinationError.
func (e *SQLDestinationError) Error() string {
	return fmt.Sprintf("sql destination %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for SQLDestinationError.
func (e *SQLDestinationError) Unwrap() error {
	return e.Err
}

// SQLDestinationStats holds write statistics.
type SQLDestinationStats struct {
	RowsWritten      int64         // Total rows committed
	TransactionCount int64         // Number of committed write transactions
	Rollbacks        int64         // Number of aborted write transactions
	LastWriteTime    time.Time     // Time of last commit
	WriteDuration    time.Duration // Total time spent writing
	ConnectionTime   time.Duration // Time spent establishing connection
}

// SQLDestinationOptions configures the SQL destination.
type SQLDestinationOptions struct {
	Dialect         string        // DialectPostgres or DialectSQLite
	DSN             string        // Connection string
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	QueryTimeout    time.Duration // Timeout for schema and DDL statements
}

// SQLDestinationOption represents a configuration function for SQLDestinationOptions.
type SQLDestinationOption func(*SQLDestinationOptions)

// WithSQLDialect sets the dialect and driver.
func WithSQLDialect(dialect string) SQLDestinationOption {
	return func(opts *SQLDestinationOptions) {
		opts.Dialect = dialect
	}
}

// WithSQLDSN sets the connection string.
func WithSQLDSN(dsn string) SQLDestinationOption {
	return func(opts *SQLDestinationOptions) {
		opts.DSN = dsn
	}
}

// WithSQLConnectionPool configures the connection pool.
func WithSQLConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) SQLDestinationOption {
	return func(opts *SQLDestinationOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithSQLQueryTimeout sets the timeout of schema and DDL statements.
func WithSQLQueryTimeout(timeout time.Duration) SQLDestinationOption {
	return func(opts *SQLDestinationOptions) {
		opts.QueryTimeout = timeout
	}
}

// SQLDestination implements core.Destination for PostgreSQL and SQLite.
// Every Write runs in one transaction, so a load commits all rows or none;
// TRUNCATE is performed inside the same transaction.
type SQLDestination struct {
	db      *sql.DB
	options SQLDestinationOptions
	stats   SQLDestinationStats
	mu      sync.Mutex
}

// NewSQLDestination opens and pings the database.
func NewSQLDestination(opts ...SQLDestinationOption) (*SQLDestination, error) {
	options := &SQLDestinationOptions{}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()

	if err := validateSQLOptions(options); err != nil {
		return nil, &SQLDestinationError{Op: "validate", Err: err}
	}

	d := &SQLDestination{options: *options}
	if err := d.connect(); err != nil {
		return nil, &SQLDestinationError{Op: "connect", Err: err}
	}
	return d, nil
}

// withDefaults applies default values to SQLDestinationOptions.
func (opts *SQLDestinationOptions) withDefaults() *SQLDestinationOptions {
	if opts.Dialect == "" {
		opts.Dialect = DialectPostgres
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	// SQLite allows one writer; a single connection also keeps in-memory
	// databases visible to every statement.
	if opts.Dialect == DialectSQLite {
		opts.MaxOpenConns = 1
		opts.MaxIdleConns = 1
	}
	return opts
}

func validateSQLOptions(opts *SQLDestinationOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if opts.Dialect != DialectPostgres && opts.Dialect != DialectSQLite {
		return fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}
	return nil
}

func (d *SQLDestination) connect() error {
	start := time.Now()

	db, err := sql.Open(d.options.Dialect, d.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(d.options.MaxOpenConns)
	db.SetMaxIdleConns(d.options.MaxIdleConns)
	db.SetConnMaxLifetime(d.options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(d.options.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), d.options.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.db = db
	d.stats.ConnectionTime = time.Since(start)
	return nil
}

// Stats returns a copy of the current write statistics.
func (d *SQLDestination) Stats() SQLDestinationStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// TableSchema implements core.Destination by reading the catalog.
func (d *SQLDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.options.QueryTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if d.options.Dialect == DialectSQLite {
		rows, err = d.db.QueryContext(ctx,
			`SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, table)
	} else {
		schemaName, tableName := splitTableName(table)
		rows, err = d.db.QueryContext(ctx,
			`SELECT column_name, data_type, CASE WHEN is_nullable = 'NO' THEN 1 ELSE 0 END
			   FROM information_schema.columns
			  WHERE table_schema = COALESCE($1, current_schema()) AND table_name = $2
			  ORDER BY ordinal_position`, schemaName, tableName)
	}
	if err != nil {
		return core.Schema{}, false, &SQLDestinationError{Op: "schema", Err: err}
	}
	defer rows.Close()

	var schema core.Schema
	for rows.Next() {
		var (
			name, sqlType string
			notNull       int
		)
		if err := rows.Scan(&name, &sqlType, &notNull); err != nil {
			return core.Schema{}, false, &SQLDestinationError{Op: "schema", Err: err}
		}
		field := core.Field{Name: name, Type: d.fieldType(sqlType), Mode: core.ModeNullable}
		if notNull != 0 {
			field.Mode = core.ModeRequired
		}
		schema.Fields = append(schema.Fields, field)
	}
	if err := rows.Err(); err != nil {
		return core.Schema{}, false, &SQLDestinationError{Op: "schema", Err: err}
	}
	return schema, len(schema.Fields) > 0, nil
}

// CreateTable implements core.Destination with CREATE TABLE IF NOT EXISTS.
func (d *SQLDestination) CreateTable(ctx context.Context, table string, schema core.Schema) error {
	ctx, cancel := context.WithTimeout(ctx, d.options.QueryTimeout)
	defer cancel()

	columns := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		col := fmt.Sprintf("%s %s", pq.QuoteIdentifier(f.Name), d.sqlType(f.Type))
		if !f.Nullable() {
			col += " NOT NULL"
		}
		columns = append(columns, col)
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteTableName(table), strings.Join(columns, ", "))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return &SQLDestinationError{Op: "create", Err: err}
	}
	return nil
}

// Write implements core.Destination. Rows are inserted with a prepared
// statement inside one transaction that is rolled back on any error.
func (d *SQLDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (n int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &core.DestinationUnavailableError{Op: "begin", Table: table, Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			d.stats.Rollbacks++
			n = 0
		}
	}()

	if mode == core.WriteTruncate {
		if _, err = tx.ExecContext(ctx, d.truncateStatement(table)); err != nil {
			return 0, &core.DestinationUnavailableError{Op: "truncate", Table: table, Err: err}
		}
	}

	stmt, err := tx.PrepareContext(ctx, d.insertStatement(table, schema))
	if err != nil {
		return 0, &core.DestinationUnavailableError{Op: "prepare", Table: table, Err: err}
	}
	defer stmt.Close()

	values := make([]interface{}, len(schema.Fields))
	for rec, rerr := range rows {
		if rerr != nil {
			err = rerr
			return 0, err
		}
		for i, f := range schema.Fields {
			values[i] = convertSQLValue(f, rec[f.Name])
		}
		if _, err = stmt.ExecContext(ctx, values...); err != nil {
			err = d.classifyInsertError(table, n, err)
			return 0, err
		}
		n++
	}

	if err = tx.Commit(); err != nil {
		return 0, &core.DestinationUnavailableError{Op: "commit", Table: table, Err: err}
	}

	d.stats.RowsWritten += n
	d.stats.TransactionCount++
	d.stats.LastWriteTime = time.Now()
	d.stats.WriteDuration += time.Since(start)
	return n, nil
}

// Close implements core.Destination.
func (d *SQLDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *SQLDestination) truncateStatement(table string) string {
	if d.options.Dialect == DialectSQLite {
		return fmt.Sprintf("DELETE FROM %s", quoteTableName(table))
	}
	return fmt.Sprintf("TRUNCATE TABLE %s", quoteTableName(table))
}

func (d *SQLDestination) insertStatement(table string, schema core.Schema) string {
	columns := make([]string, len(schema.Fields))
	placeholders := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		columns[i] = pq.QuoteIdentifier(f.Name)
		if d.options.Dialect == DialectSQLite {
			placeholders[i] = "?"
		} else {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTableName(table),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "))
}

// classifyInsertError separates rows the database refused from failures of
// the database itself.
func (d *SQLDestination) classifyInsertError(table string, index int64, err error) error {
	var (
		pqErr     *pq.Error
		sqliteErr sqlite3.Error
	)
	switch {
	case errors.As(err, &pqErr) && (pqErr.Code.Class() == "22" || pqErr.Code.Class() == "23"):
		return &core.RejectedRowsError{
			Table:    table,
			Rejected: 1,
			Rows:     []core.RowError{{Index: index, Field: pqErr.Column, Reason: pqErr.Message}},
		}
	case errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrConstraint || sqliteErr.Code == sqlite3.ErrMismatch):
		return &core.RejectedRowsError{
			Table:    table,
			Rejected: 1,
			Rows:     []core.RowError{{Index: index, Reason: sqliteErr.Error()}},
		}
	}
	return &core.DestinationUnavailableError{Op: "insert", Table: table, Err: err}
}

var (
	postgresTypes = map[core.FieldType]string{
		core.FieldString:    "TEXT",
		core.FieldTimestamp: "TIMESTAMPTZ",
		core.FieldFloat:     "DOUBLE PRECISION",
		core.FieldNumeric:   "NUMERIC",
		core.FieldInteger:   "BIGINT",
		core.FieldBoolean:   "BOOLEAN",
	}
	sqliteTypes = map[core.FieldType]string{
		core.FieldString:    "TEXT",
		core.FieldTimestamp: "TIMESTAMP",
		core.FieldFloat:     "REAL",
		core.FieldNumeric:   "NUMERIC",
		core.FieldInteger:   "INTEGER",
		core.FieldBoolean:   "BOOLEAN",
	}
)

func (d *SQLDestination) sqlType(t core.FieldType) string {
	if d.options.Dialect == DialectSQLite {
		return sqliteTypes[t]
	}
	return postgresTypes[t]
}

// fieldType maps a catalog type name back to a field type. Unknown names are
// returned upper-cased so a schema diff shows them.
func (d *SQLDestination) fieldType(sqlType string) core.FieldType {
	switch strings.ToLower(strings.TrimSpace(sqlType)) {
	case "text", "character varying", "varchar":
		return core.FieldString
	case "timestamp", "timestamptz", "datetime", "timestamp with time zone", "timestamp without time zone":
		return core.FieldTimestamp
	case "real", "double", "double precision", "float":
		return core.FieldFloat
	case "numeric", "decimal":
		return core.FieldNumeric
	case "integer", "int", "bigint", "smallint":
		return core.FieldInteger
	case "boolean", "bool":
		return core.FieldBoolean
	}
	return core.FieldType(strings.ToUpper(sqlType))
}

// convertSQLValue converts a row value to a driver value for field f.
func convertSQLValue(f core.Field, value interface{}) interface{} {
	v := core.Plain(value)
	if v == nil {
		return nil
	}
	switch f.Type {
	case core.FieldFloat:
		if x, ok := core.AsFloat64(v); ok {
			return x
		}
	case core.FieldTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}

// splitTableName splits an optional schema qualifier off a table name.
func splitTableName(table string) (sql.NullString, string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return sql.NullString{String: table[:i], Valid: true}, table[i+1:]
	}
	return sql.NullString{}, table
}

func quoteTableName(table string) string {
	schemaName, tableName := splitTableName(table)
	if schemaName.Valid {
		return pq.QuoteIdentifier(schemaName.String) + "." + pq.QuoteIdentifier(tableName)
	}
	return pq.QuoteIdentifier(tableName)
}
