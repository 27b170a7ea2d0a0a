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

// Package filter provides composable predicates over raw source records,
// applied before records reach the trip stage.
package filter

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/aaronlmathis/tripetl/trip"
)

// NotNull creates a filter that excludes records where the specified field is missing, nil or empty
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			return false, nil
		}
		return !core.IsNull(value), nil
	})
}

// In creates a filter that includes records where the field value is in the provided set
func In(field string, values ...interface{}) core.Filter {
	valueSet := make(map[interface{}]bool, len(values))
	for _, v := range values {
		valueSet[v] = true
	}

	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists || value == nil || !reflect.TypeOf(value).Comparable() {
			return false, nil
		}
		return valueSet[value], nil
	})
}

// TimeAtOrAfter includes records whose timestamp field is at or after start.
// Null timestamps are excluded; unparseable ones are an error.
func TimeAtOrAfter(field string, start time.Time) core.Filter {
	return timeFilter(field, func(t time.Time) bool { return !t.Before(start) })
}

// TimeBefore includes records whose timestamp field is before end.
func TimeBefore(field string, end time.Time) core.Filter {
	return timeFilter(field, func(t time.Time) bool { return t.Before(end) })
}

func timeFilter(field string, keep func(time.Time) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		t, ok, err := trip.ParseTimestamp(record[field])
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", field, err)
		}
		return ok && keep(t), nil
	})
}

// And creates a filter that requires all provided filters to pass
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil || !include {
				return false, err
			}
		}
		return true, nil
	})
}

// Not creates a filter that negates the provided filter
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}
