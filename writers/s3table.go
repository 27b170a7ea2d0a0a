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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/aaronlmathis/tripetl/core"
)

// S3TableAPI is the subset of the S3 client used by S3TableDestination.
type S3TableAPI interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3TableOptions configures an S3 file table destination.
type S3TableOptions struct {
	Bucket    string          // Bucket holding the tables
	Prefix    string          // Key prefix above the table directories
	Format    DestinationKind // Part format: parquet, jsonl or csv
	Region    string
	Endpoint  string // Custom S3 endpoint (for S3-compatible services)
	PathStyle bool
	Client    S3TableAPI // Preconfigured client; skips AWS config loading
}

// S3TableOption represents a configuration function for S3TableDestination.
type S3TableOption func(*S3TableOptions)

func WithS3TableBucket(bucket string) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Bucket = bucket
	}
}

func WithS3TablePrefix(prefix string) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Prefix = prefix
	}
}

func WithS3TableFormat(format DestinationKind) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Format = format
	}
}

func WithS3TableRegion(region string) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Region = region
	}
}

func WithS3TableEndpoint(endpoint string, pathStyle bool) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Endpoint = endpoint
		opts.PathStyle = pathStyle
	}
}

// WithS3TableClient uses client instead of one built from the AWS options.
func WithS3TableClient(client S3TableAPI) S3TableOption {
	return func(opts *S3TableOptions) {
		opts.Client = client
	}
}

// S3TableDestination stores tables in S3 with the layout of
// FileTableDestination: parts under <prefix>/<table>/ listed by a
// _manifest.json object. Each part is encoded to a local temporary file,
// uploaded, and only then is the manifest PUT. The manifest PUT is the
// commit point; a failed write leaves the previous manifest in place.
type S3TableDestination struct {
	client   S3TableAPI
	uploader *manager.Uploader
	bucket   string
	prefix   string
	format   partWriter
	mu       sync.Mutex
}

// NewS3TableDestination creates an S3 file table destination.
func NewS3TableDestination(ctx context.Context, options ...S3TableOption) (*S3TableDestination, error) {
	opts := S3TableOptions{Format: KindParquet}
	for _, option := range options {
		option(&opts)
	}
	if opts.Bucket == "" {
		return nil, &FileTableError{Op: "validate", Err: fmt.Errorf("bucket is required")}
	}

	var format partWriter
	switch opts.Format {
	case KindParquet:
		format = newParquetPartWriter()
	case KindJSONL:
		format = jsonlPartWriter{}
	case KindCSV:
		format = csvPartWriter{}
	default:
		return nil, &FileTableError{Op: "validate", Err: fmt.Errorf("unsupported part format %q", opts.Format)}
	}

	client := opts.Client
	if client == nil {
		var configOpts []func(*config.LoadOptions) error
		if opts.Region != "" {
			configOpts = append(configOpts, config.WithRegion(opts.Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, &FileTableError{Op: "create_aws_config", Err: err}
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
			o.UsePathStyle = opts.PathStyle
		})
	}

	return &S3TableDestination{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		format:   format,
	}, nil
}

// TableSchema implements core.Destination.
func (d *S3TableDestination) TableSchema(ctx context.Context, table string) (core.Schema, bool, error) {
	if err := validateTableName(table); err != nil {
		return core.Schema{}, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.getManifest(ctx, table)
	if errors.Is(err, os.ErrNotExist) {
		return core.Schema{}, false, nil
	}
	if err != nil {
		return core.Schema{}, false, err
	}
	return m.Schema, true, nil
}

// CreateTable implements core.Destination. Creating an existing table is a no-op.
func (d *S3TableDestination) CreateTable(ctx context.Context, table string, schema core.Schema) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.getManifest(ctx, table)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return d.putManifest(ctx, table, manifest{Schema: schema, Parts: []string{}, UpdatedAt: time.Now().UTC()})
}

// Write implements core.Destination.
func (d *S3TableDestination) Write(ctx context.Context, table string, schema core.Schema, mode core.WriteDisposition, rows iter.Seq2[core.Record, error]) (int64, error) {
	if err := validateTableName(table); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.getManifest(ctx, table)
	if errors.Is(err, os.ErrNotExist) {
		return 0, &FileTableError{Op: "manifest", Table: table, Err: core.ErrTableNotFound}
	}
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp("", "tripetl-part-*"+d.format.ext())
	if err != nil {
		return 0, &FileTableError{Op: "write_part", Table: table, Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	n, err := d.format.writePart(ctx, tmpPath, schema, rows)
	if err != nil {
		var rejected *core.RejectedRowsError
		if errors.As(err, &rejected) && rejected.Table == "" {
			rejected.Table = table
		}
		return 0, err
	}

	id := uuid.NewString()
	part := fmt.Sprintf("part-%s-%s%s", time.Now().UTC().Format("20060102T150405"), id[:8], d.format.ext())
	if err := d.uploadPart(ctx, tmpPath, d.key(table, part)); err != nil {
		return 0, &FileTableError{Op: "upload_part", Table: table, Err: err}
	}

	old := m.Parts
	if mode == core.WriteTruncate {
		m.Parts = []string{part}
	} else {
		m.Parts = append(append([]string{}, old...), part)
	}
	m.UpdatedAt = time.Now().UTC()

	if err := d.putManifest(ctx, table, m); err != nil {
		d.deleteObject(context.WithoutCancel(ctx), d.key(table, part))
		return 0, err
	}

	if mode == core.WriteTruncate {
		for _, p := range old {
			d.deleteObject(ctx, d.key(table, p))
		}
	}
	return n, nil
}

// Keys returns the object keys of the committed parts of table, oldest first.
func (d *S3TableDestination) Keys(ctx context.Context, table string) ([]string, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.getManifest(ctx, table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(m.Parts))
	for i, p := range m.Parts {
		keys[i] = d.key(table, p)
	}
	return keys, nil
}

// Close implements core.Destination.
func (d *S3TableDestination) Close() error {
	return nil
}

func (d *S3TableDestination) key(table, name string) string {
	return path.Join(d.prefix, table, name)
}

func (d *S3TableDestination) uploadPart(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return err
}

// getManifest returns os.ErrNotExist when the table has no manifest object.
func (d *S3TableDestination) getManifest(ctx context.Context, table string) (manifest, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(table, ManifestName)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return manifest{}, os.ErrNotExist
		}
		return manifest{}, &FileTableError{Op: "manifest", Table: table, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return manifest{}, &FileTableError{Op: "manifest", Table: table, Err: err}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, &FileTableError{Op: "manifest", Table: table, Err: err}
	}
	return m, nil
}

func (d *S3TableDestination) putManifest(ctx context.Context, table string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &FileTableError{Op: "commit", Table: table, Err: err}
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key(table, ManifestName)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return &FileTableError{Op: "commit", Table: table, Err: err}
	}
	return nil
}

func (d *S3TableDestination) deleteObject(ctx context.Context, key string) {
	d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
}
