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

// Package transform provides composable rewrites of raw source records,
// applied before records reach the trip stage.
package transform

import (
	"context"
	"maps"
	"strings"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/trip"
)

// PortalHeaders maps the column titles of the public taxi trip CSV export
// to raw record field names.
var PortalHeaders = map[string]string{
	"Trip ID":              trip.ColUniqueKey,
	"Trip Start Timestamp": trip.ColTripStart,
	"Trip End Timestamp":   trip.ColTripEnd,
	"Trip Seconds":         trip.ColTripSeconds,
	"Trip Miles":           trip.ColTripMiles,
	"Fare":                 trip.ColFare,
	"Payment Type":         trip.ColPaymentType,
}

// Select creates a transformer that selects only the specified fields from each record.
// Fields not listed are omitted from the output record.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// Rename creates a transformer that renames fields according to the provided mapping.
// Keys are original field names, values are new field names.
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, exists := mapping[key]; exists {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// TrimSpace creates a transformer that trims whitespace from the specified
// string fields. A value that trims to "" becomes nil.
func TrimSpace(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := clone(record)
		for _, field := range fields {
			if str, ok := result[field].(string); ok {
				if trimmed := strings.TrimSpace(str); trimmed != "" {
					result[field] = trimmed
				} else {
					result[field] = nil
				}
			}
		}
		return result, nil
	})
}

// StripCurrency removes a leading "$" and thousands separators from the
// specified string fields, as found in money columns of CSV exports.
func StripCurrency(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := clone(record)
		for _, field := range fields {
			if str, ok := result[field].(string); ok {
				str = strings.TrimPrefix(strings.TrimSpace(str), "$")
				result[field] = strings.ReplaceAll(str, ",", "")
			}
		}
		return result, nil
	})
}

func clone(record core.Record) core.Record {
	result := make(core.Record, len(record)+1)
	maps.Copy(result, record)
	return result
}

// Chain applies transformers in order.
func Chain(transformers ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		var err error
		for _, t := range transformers {
			if record, err = t.Transform(ctx, record); err != nil {
				return nil, err
			}
		}
		return record, nil
	})
}
