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

package readers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/tripetl/core"
)

// S3ReaderError provides structured error information for S3 reader operations
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "read")
	Key string // Object key, if any
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3API is the subset of the S3 client used by S3Reader.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReaderStats holds statistics about the S3 reader's performance
type S3ReaderStats struct {
	ObjectsListed  int64         // Total objects discovered
	ObjectsRead    int64         // Total objects opened
	RecordsRead    int64         // Total records read across all objects
	ReadDuration   time.Duration // Total time spent reading
	LastReadTime   time.Time     // Time of last read operation
	CurrentObject  string        // Currently processing object
	ProcessedFiles []string      // Objects read to the end
}

// S3ReaderOptions configures the S3 reader behavior
type S3ReaderOptions struct {
	Bucket         string          // S3 bucket name
	Prefix         string          // Key prefix filter
	Suffix         string          // Key suffix filter (e.g., ".csv", ".jsonl")
	MaxKeys        int32           // Page size of object listings
	Region         string          // AWS region
	Profile        string          // AWS profile to use
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	Recursive      bool            // Include keys below nested prefixes
	SortOrder      SortOrder       // Order to process files
	IncludeKey     bool            // Add the object key to records as _s3_key
	Client         S3API           // Preconfigured client; skips AWS config loading
}

// SortOrder defines how files should be ordered for processing
type SortOrder string

const (
	SortByName         SortOrder = "name"          // Sort by object key
	SortByLastModified SortOrder = "last_modified" // Sort by modification time
	SortBySize         SortOrder = "size"          // Sort by object size
	SortNone           SortOrder = "none"          // No sorting (S3 order)
)

// ReaderOptionS3 represents a configuration function for S3Reader
type ReaderOptionS3 func(*S3ReaderOptions)

func WithS3Bucket(bucket string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Bucket = bucket
	}
}

func WithS3Prefix(prefix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Prefix = prefix
	}
}

func WithS3Suffix(suffix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Suffix = suffix
	}
}

func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Region = region
	}
}

func WithS3Profile(profile string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Profile = profile
	}
}

func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Credentials = creds
	}
}

func WithS3Endpoint(endpoint string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.EndpointURL = endpoint
	}
}

func WithS3PathStyle(pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3Recursive(recursive bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Recursive = recursive
	}
}

func WithS3SortOrder(order SortOrder) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.SortOrder = order
	}
}

func WithS3IncludeKey(include bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.IncludeKey = include
	}
}

// WithS3Client uses client instead of one built from the AWS options.
func WithS3Client(client S3API) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Client = client
	}
}

// S3Object represents an S3 object with metadata
type S3Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// S3Reader implements core.DataSource over the trip exports stored under an
// S3 prefix. Objects are read one after another; .csv objects go through
// CSVReader, .parquet objects through ParquetReader and everything else is
// read as JSON lines.
//
// A failure to open or read an object ends the read with an error rather than
// skipping the object.
type S3Reader struct {
	client        S3API
	objects       []S3Object
	currentIndex  int
	currentReader core.DataSource
	tempFile      string
	stats         S3ReaderStats
	opts          S3ReaderOptions
	mu            sync.RWMutex
}

// NewS3Reader creates a new S3 reader and lists the objects it will read.
func NewS3Reader(ctx context.Context, options ...ReaderOptionS3) (*S3Reader, error) {
	opts := S3ReaderOptions{
		MaxKeys:   1000,
		SortOrder: SortByName,
		Recursive: true,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Bucket == "" {
		return nil, &S3ReaderError{Op: "validate_options", Err: fmt.Errorf("bucket is required")}
	}

	client := opts.Client
	if client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &S3ReaderError{Op: "create_aws_config", Err: err}
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}

	reader := &S3Reader{
		client: client,
		opts:   opts,
	}
	if err := reader.listObjects(ctx); err != nil {
		return nil, &core.SourceUnavailableError{Op: "list_objects", URL: "s3://" + opts.Bucket + "/" + opts.Prefix, Err: err}
	}
	return reader, nil
}

// Read implements the core.DataSource interface
func (s *S3Reader) Read(ctx context.Context) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		s.stats.ReadDuration += time.Since(start)
		s.stats.LastReadTime = time.Now()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, &S3ReaderError{Op: "read", Err: err}
		}

		if s.currentReader == nil {
			if s.currentIndex >= len(s.objects) {
				return nil, io.EOF
			}
			if err := s.openNextObject(ctx); err != nil {
				return nil, err
			}
		}

		record, err := s.currentReader.Read(ctx)
		if errors.Is(err, io.EOF) {
			s.stats.ProcessedFiles = append(s.stats.ProcessedFiles, s.objects[s.currentIndex].Key)
			if err := s.closeCurrentReader(); err != nil {
				return nil, &S3ReaderError{Op: "close_object", Err: err}
			}
			continue
		}
		if err != nil {
			return nil, &S3ReaderError{Op: "read_record", Key: s.objects[s.currentIndex].Key, Err: err}
		}

		if s.opts.IncludeKey {
			record["_s3_key"] = s.objects[s.currentIndex].Key
		}
		s.stats.RecordsRead++
		return record, nil
	}
}

// Close implements the core.DataSource interface
func (s *S3Reader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrentReader()
}

// Stats returns S3 reader performance statistics
func (s *S3Reader) Stats() S3ReaderStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.ProcessedFiles = slices.Clone(s.stats.ProcessedFiles)
	return stats
}

// Objects returns the list of S3 objects that will be/have been processed
func (s *S3Reader) Objects() []S3Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.objects)
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3ReaderOptions) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}
	return cfg, nil
}

// listObjects retrieves and filters objects from S3
func (s *S3Reader) listObjects(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	var objects []S3Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !s.shouldIncludeObject(key) {
				continue
			}
			objects = append(objects, S3Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
			})
		}
	}

	sortObjects(objects, s.opts.SortOrder)
	s.objects = objects
	s.stats.ObjectsListed = int64(len(objects))
	return nil
}

// shouldIncludeObject determines if an object should be processed
func (s *S3Reader) shouldIncludeObject(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	if s.opts.Suffix != "" && !strings.HasSuffix(key, s.opts.Suffix) {
		return false
	}
	if !s.opts.Recursive && strings.Contains(strings.TrimPrefix(key, s.opts.Prefix), "/") {
		return false
	}
	return true
}

// sortObjects orders objects in place. Ties keep key order.
func sortObjects(objects []S3Object, order SortOrder) {
	switch order {
	case SortByName:
		slices.SortFunc(objects, func(a, b S3Object) int { return cmp.Compare(a.Key, b.Key) })
	case SortByLastModified:
		slices.SortStableFunc(objects, func(a, b S3Object) int { return a.LastModified.Compare(b.LastModified) })
	case SortBySize:
		slices.SortStableFunc(objects, func(a, b S3Object) int { return cmp.Compare(a.Size, b.Size) })
	}
}

// openNextObject opens the next S3 object for reading
func (s *S3Reader) openNextObject(ctx context.Context) error {
	obj := s.objects[s.currentIndex]
	s.stats.CurrentObject = obj.Key

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return &core.SourceUnavailableError{Op: "get_object", URL: "s3://" + s.opts.Bucket + "/" + obj.Key, Err: err}
	}

	reader, err := s.createReaderForObject(result.Body, obj.Key)
	if err != nil {
		return &S3ReaderError{Op: "open_object", Key: obj.Key, Err: err}
	}

	s.currentReader = reader
	s.stats.ObjectsRead++
	return nil
}

// createReaderForObject creates the appropriate reader based on file extension.
// Parquet needs random access, so those objects are spooled to a temp file.
func (s *S3Reader) createReaderForObject(body io.ReadCloser, key string) (core.DataSource, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		r, err := NewCSVReader(body)
		if err != nil {
			body.Close()
			return nil, err
		}
		return r, nil
	case ".parquet":
		defer body.Close()
		tmp, err := os.CreateTemp("", "tripetl-s3-*.parquet")
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(tmp, body)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmp.Name())
			return nil, err
		}
		r, err := NewParquetReader(tmp.Name())
		if err != nil {
			os.Remove(tmp.Name())
			return nil, err
		}
		s.tempFile = tmp.Name()
		return r, nil
	default:
		return NewJSONReader(body), nil
	}
}

// closeCurrentReader closes the current file reader and advances to the next object.
func (s *S3Reader) closeCurrentReader() error {
	if s.currentReader == nil {
		return nil
	}
	err := s.currentReader.Close()
	s.currentReader = nil
	s.currentIndex++
	if s.tempFile != "" {
		os.Remove(s.tempFile)
		s.tempFile = ""
	}
	return err
}
