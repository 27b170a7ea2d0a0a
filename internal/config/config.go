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

// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aaronlmathis/tripetl/writers"
)

// Source kinds for the batch job.
const (
	SourcePostgres = "postgres"
	SourceFiles    = "files"
	SourceS3       = "s3"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	Port      string `env:"PORT" envDefault:"8080"`

	Source      SourceConfig      `envPrefix:"SOURCE_"`
	Destination DestinationConfig `envPrefix:"DEST_"`
	Batch       BatchConfig       `envPrefix:"BATCH_"`
	Fetch       FetchConfig       `envPrefix:"FETCH_"`
}

// SourceConfig selects where raw trip rows come from.
type SourceConfig struct {
	Kind          string    `env:"KIND" envDefault:"postgres"`
	DSN           string    `env:"DSN"`
	Table         string    `env:"TABLE" envDefault:"taxi_trips"`
	Files         []string  `env:"FILES" envSeparator:","`
	Bucket        string    `env:"S3_BUCKET"`
	Prefix        string    `env:"S3_PREFIX"`
	Region        string    `env:"S3_REGION"`
	Endpoint      string    `env:"S3_ENDPOINT"`
	PathStyle     bool      `env:"S3_PATH_STYLE"`
	PortalHeaders bool      `env:"PORTAL_HEADERS"`
	WindowStart   time.Time `env:"WINDOW_START" envDefault:"2019-09-05T07:15:00Z"`
	WindowEnd     time.Time `env:"WINDOW_END"`
	Limit         int       `env:"LIMIT" envDefault:"10000"`

	PaymentTypes        []string `env:"PAYMENT_TYPES" envSeparator:","`
	ExcludePaymentTypes []string `env:"EXCLUDE_PAYMENT_TYPES" envSeparator:","`
	RequireKey          bool     `env:"REQUIRE_KEY"`
}

// DestinationConfig selects the warehouse that receives both tables.
type DestinationConfig struct {
	Kind     string `env:"KIND" envDefault:"sqlite"`
	DSN      string `env:"DSN" envDefault:"tripetl.db"`
	Dir      string `env:"DIR" envDefault:"warehouse"`
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DATABASE" envDefault:"tripetl"`

	Bucket    string `env:"S3_BUCKET"`
	Prefix    string `env:"S3_PREFIX"`
	Region    string `env:"S3_REGION"`
	Endpoint  string `env:"S3_ENDPOINT"`
	PathStyle bool   `env:"S3_PATH_STYLE"`
	Format    string `env:"S3_FORMAT" envDefault:"parquet"`
}

type BatchConfig struct {
	Table      string `env:"TABLE" envDefault:"trips_transformed"`
	SkipErrors bool   `env:"SKIP_ERRORS" envDefault:"true"`

	// MaxPrepareErrors stops a skipping batch once more raw records than
	// this failed preparation. Zero skips without limit.
	MaxPrepareErrors int `env:"MAX_PREPARE_ERRORS"`
}

type FetchConfig struct {
	URL          string        `env:"URL" envDefault:"https://api.coingecko.com/api/v3/simple/price"`
	IDs          []string      `env:"IDS" envSeparator:"," envDefault:"bitcoin,ethereum,cardano"`
	APIKey       string        `env:"API_KEY"`
	APIKeyHeader string        `env:"API_KEY_HEADER" envDefault:"x-cg-demo-api-key"`
	Table        string        `env:"TABLE" envDefault:"prices"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected source and destination are complete.
func (c Config) Validate() error {
	switch strings.ToLower(c.Source.Kind) {
	case SourcePostgres:
		// The DSN is only needed by the batch job and checked when it opens the source.
	case SourceFiles:
		if len(c.Source.Files) == 0 {
			return fmt.Errorf("SOURCE_FILES is required for source kind %q", c.Source.Kind)
		}
	case SourceS3:
		if c.Source.Bucket == "" {
			return fmt.Errorf("SOURCE_S3_BUCKET is required for source kind %q", c.Source.Kind)
		}
	default:
		return fmt.Errorf("unsupported source kind %q", c.Source.Kind)
	}

	kind, err := writers.ParseDestinationKind(c.Destination.Kind)
	if err != nil {
		return err
	}
	if kind == writers.KindMongo && c.Destination.URI == "" {
		return fmt.Errorf("DEST_MONGO_URI is required for destination kind %q", c.Destination.Kind)
	}
	if kind == writers.KindS3 {
		if c.Destination.Bucket == "" {
			return fmt.Errorf("DEST_S3_BUCKET is required for destination kind %q", c.Destination.Kind)
		}
		switch format, _ := writers.ParseDestinationKind(c.Destination.Format); format {
		case writers.KindParquet, writers.KindJSONL, writers.KindCSV:
		default:
			return fmt.Errorf("unsupported DEST_S3_FORMAT %q", c.Destination.Format)
		}
	}
	if c.Source.Limit < 0 {
		return fmt.Errorf("SOURCE_LIMIT must not be negative")
	}
	if !c.Source.WindowEnd.IsZero() && !c.Source.WindowEnd.After(c.Source.WindowStart) {
		return fmt.Errorf("SOURCE_WINDOW_END must be after SOURCE_WINDOW_START")
	}
	if c.Batch.MaxPrepareErrors < 0 {
		return fmt.Errorf("BATCH_MAX_PREPARE_ERRORS must not be negative")
	}
	return nil
}

// Location returns the destination described by the configuration.
func (c Config) Location() writers.Location {
	kind, _ := writers.ParseDestinationKind(c.Destination.Kind)
	format, _ := writers.ParseDestinationKind(c.Destination.Format)
	return writers.Location{
		Kind:      kind,
		DSN:       c.Destination.DSN,
		Dir:       c.Destination.Dir,
		URI:       c.Destination.URI,
		Database:  c.Destination.Database,
		Bucket:    c.Destination.Bucket,
		Prefix:    c.Destination.Prefix,
		Region:    c.Destination.Region,
		Endpoint:  c.Destination.Endpoint,
		PathStyle: c.Destination.PathStyle,
		Format:    format,
	}
}
