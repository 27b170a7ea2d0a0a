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

package writers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aaronlmathis/tripetl/core"
)

// DefaultMongoSchemaCollection holds one document per table with its declared schema.
const DefaultMongoSchemaCollection = "_tripetl_schemas"

// MongoDestinationError wraps MongoDB specific errors with context about the operation.
type MongoDestinationError struct {
	Op  string // The operation being performed (e.g., "connect", "schema", "rename")
	Err error  // The underlying error
}

func (e *MongoDestinationError) Error() string {
	return fmt.Sprintf("mongo destination %s: %v", e.Op, e.Err)
}

func (e *MongoDestinationError) Unwrap() error {
	return e.Err
}

// MongoDestinationStats holds write statistics.
type MongoDestinationStats struct {
	DocumentsWritten int64         // Total documents committed
	Truncates        int64         // Staging collections swapped in
	Transactions     int64         // Committed append transactions
	Aborts           int64         // Writes that left the collection unchanged after an error
	WriteDuration    time.Duration // Total time spent writing
}

// MongoDestinationOptions configures the MongoDB destination.
type MongoDestinationOptions struct {
	URI              string        // Connection string
	Database         string        // Database holding the table collections
	SchemaCollection string        // Collection storing table schemas
	BatchSize        int           // Documents per InsertMany call
	Timeout          time.Duration // Connect, ping and metadata timeout
}

// MongoDestinationOption represents a configuration function for MongoDestinationOptions.
type MongoDestinationOption func(*MongoDestinationOptions)

func WithMongoURI(uri string) MongoDestinationOption {
	return func(opts *MongoDestinationOptions) {
		opts.URI = uri
	}
}

func WithMongoDatabase(database string) MongoDestinationOption {
	return func(opts *MongoDestinationOptions) {
		opts.Database = database
	}
}

func WithMongoSchemaCollection(collection string) MongoDestinationOption {
	return func(opts *MongoDestinationOptions) {
		opts.SchemaCollection = collection
	}
}

func WithMongoBatchSize(size int) MongoDestinationOption {
	return func(opts *MongoDestinationOptions) {
		opts.BatchSize = size
	}
}

func WithMongoTimeout(timeout time.Duration) MongoDestinationOption {
	return func(opts *MongoDestinationOptions) {
		opts.Timeout = timeout
	}
}

func (opts *MongoDestinationOptions) withDefaults() *MongoDestinationOptions {
	if opts.SchemaCollection == "" {
		opts.SchemaCollection = DefaultMongoSchemaCollection
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return opts
}

func validateMongoOptions(opts *MongoDestinationOptions) error {
	if opts.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if opts.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// MongoDestination implements core.Destination with one collection per table.
//
// TRUNCATE writes into a fresh staging collection and renames it over the
// table with dropTarget, so readers see the old or the new documents only.
// APPEND inserts inside a multi-document transaction and therefore needs a
// replica set or sharded cluster.
type MongoDestination struct {
	client  *mongo.Client
	db      *mongo.Database
	options MongoDestinationOptions
	stats   MongoDestinationStats
	mu      sync.Mutex
}

type mongoSchemaDoc struct {
	Table     string       `bson:"_id"`
	Fields    []core.Field `bson:"fields"`
	CreatedAt time.Time    `bson:"created_at"`
}

// NewMongoDestination connects to MongoDB and pings the primary.
func NewMongoDestination(ctx context.Context, opts ...MongoDestinationOption) (*MongoDestination, error) {
	options := &MongoDestinationOptions{}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()

	if err := validateMongoOptions(options); err != nil {
		return nil, &MongoDestinationError{Op: "validate", Err: err}
	}

	client, err := connectMongo(ctx, options)
	if err != nil {
		return nil, &MongoDestinationError{Op: "connect", Err: err}
	}
	return &MongoDestination{
		client:  client,
		db:      client.Database(options.Database),
		options: *options,
	}, nil
}

func connectMongo(ctx context.Context, opts *MongoDestinationOptions) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("error creating MongoDB client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("error connecting to MongoDB (ping failed): %w", err)
	}
	return client, nil
}

// Stats returns a copy of the current write statistics.
func (d *MongoDestination) Stats() MongoDestinationStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// TableSchema implements core.Destination from the schema collection.
func (d *MongoDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.options.Timeout)
	defer cancel()

	var doc mongoSchemaDoc
	err := d.db.Collection(d.options.SchemaCollection).FindOne(ctx, bson.M{"_id": table}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Schema{}, false, nil
	}
	if err != nil {
		return core.Schema{}, false, &MongoDestinationError{Op: "schema", Err: err}
	}
	return core.Schema{Fields: doc.Fields}, true, nil
}

// CreateTable implements core.Destination. The schema document is only
// inserted when absent, so creating an existing table is a no-op.
func (d *MongoDestination) CreateTable(ctx context.Context, table string, schema core.Schema) error {
	ctx, cancel := context.WithTimeout(ctx, d.options.Timeout)
	defer cancel()

	update := bson.M{"$setOnInsert": bson.M{"fields": schema.Fields, "created_at": time.Now().UTC()}}
	_, err := d.db.Collection(d.options.SchemaCollection).UpdateOne(ctx, bson.M{"_id": table}, update, options.Update().SetUpsert(true))
	if err != nil {
		return &MongoDestinationError{Op: "create", Err: err}
	}
	return nil
}

// Write implements core.Destination.
func (d *MongoDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (n int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() {
		d.stats.WriteDuration += time.Since(start)
		if err != nil {
			d.stats.Aborts++
			n = 0
			return
		}
		d.stats.DocumentsWritten += n
	}()

	if mode == core.WriteTruncate {
		return d.replace(ctx, table, schema, rows)
	}
	return d.appendInTransaction(ctx, table, schema, rows)
}

// replace streams rows into a staging collection and swaps it in.
func (d *MongoDestination) replace(ctx context.Context, table string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error) {
	staging := stagingCollectionName(table)
	if err := d.db.CreateCollection(ctx, staging); err != nil {
		return 0, &core.DestinationUnavailableError{Op: "create_staging", Table: table, Err: err}
	}
	coll := d.db.Collection(staging)

	n, err := d.insertAll(ctx, coll, table, schema, rows)
	if err != nil {
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.options.Timeout)
		defer cancel()
		coll.Drop(dropCtx)
		return 0, err
	}

	cmd := bson.D{
		{Key: "renameCollection", Value: d.options.Database + "." + staging},
		{Key: "to", Value: d.options.Database + "." + table},
		{Key: "dropTarget", Value: true},
	}
	if err := d.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		coll.Drop(context.WithoutCancel(ctx))
		return 0, &core.DestinationUnavailableError{Op: "rename", Table: table, Err: err}
	}
	d.stats.Truncates++
	return n, nil
}

// appendInTransaction buffers the converted documents so the transaction
// callback can be retried, then inserts them in one transaction.
func (d *MongoDestination) appendInTransaction(ctx context.Context, table string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error) {
	var docs []interface{}
	for rec, rerr := range rows {
		if rerr != nil {
			return 0, rerr
		}
		docs = append(docs, mongoDocument(schema, rec))
	}

	session, err := d.client.StartSession()
	if err != nil {
		return 0, &core.DestinationUnavailableError{Op: "session", Table: table, Err: err}
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	coll := d.db.Collection(table)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for off := 0; off < len(docs); off += d.options.BatchSize {
			end := min(off+d.options.BatchSize, len(docs))
			if _, err := coll.InsertMany(sc, docs[off:end]); err != nil {
				return nil, classifyMongoError(table, int64(off), err)
			}
		}
		return nil, nil
	})
	if err != nil {
		var rejected *core.RejectedRowsError
		var unavailable *core.DestinationUnavailableError
		if errors.As(err, &rejected) || errors.As(err, &unavailable) {
			return 0, err
		}
		return 0, &core.DestinationUnavailableError{Op: "transaction", Table: table, Err: err}
	}
	d.stats.Transactions++
	return int64(len(docs)), nil
}

func (d *MongoDestination) insertAll(ctx context.Context, coll *mongo.Collection, table string, schema core.Schema, rows iter.Seq2[core.Record, error]) (int64, error) {
	var (
		n     int64
		batch = make([]interface{}, 0, d.options.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := coll.InsertMany(ctx, batch); err != nil {
			return classifyMongoError(table, n-int64(len(batch)), err)
		}
		batch = batch[:0]
		return nil
	}

	for rec, rerr := range rows {
		if rerr != nil {
			return 0, rerr
		}
		batch = append(batch, mongoDocument(schema, rec))
		n++
		if len(batch) >= d.options.BatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Close implements core.Destination.
func (d *MongoDestination) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.options.Timeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}

func stagingCollectionName(table string) string {
	return fmt.Sprintf("%s__staging_%s", table, uuid.NewString()[:8])
}

// mongoDocument builds a document with fields in schema order.
func mongoDocument(schema core.Schema, rec core.Record) bson.D {
	doc := make(bson.D, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		doc = append(doc, bson.E{Key: f.Name, Value: mongoValue(f, rec[f.Name])})
	}
	return doc
}

// mongoValue converts a row value for field f. NUMERIC values become
// Decimal128 so they keep their exact digits.
func mongoValue(f core.Field, value interface{}) interface{} {
	v := fileValue(f, value)
	if f.Type == core.FieldNumeric {
		if s, ok := v.(string); ok {
			if d, err := primitive.ParseDecimal128(s); err == nil {
				return d
			}
		}
	}
	return v
}

// classifyMongoError maps per-document write errors to rejected rows.
// offset is the row index of the first document of the failed batch.
func classifyMongoError(table string, offset int64, err error) error {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		rejected := &core.RejectedRowsError{Table: table, Rejected: int64(len(bwe.WriteErrors))}
		for _, we := range bwe.WriteErrors {
			rejected.Rows = append(rejected.Rows, core.RowError{Index: offset + int64(we.Index), Reason: we.Message})
		}
		return rejected
	}
	return &core.DestinationUnavailableError{Op: "insert", Table: table, Err: err}
}
